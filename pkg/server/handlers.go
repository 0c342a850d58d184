package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/navikt/polly-sub000/pkg/auth"
	"github.com/navikt/polly-sub000/pkg/errors"
	"github.com/navikt/polly-sub000/pkg/logger"
	"github.com/navikt/polly-sub000/pkg/session"
	"github.com/navikt/polly-sub000/pkg/state"
	"github.com/navikt/polly-sub000/pkg/telemetry"
)

// handleLogin validates the caller's redirect targets, creates a session in
// the awaiting-callback state and sends the browser to the identity
// provider's authorization endpoint.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	redirectURI := r.URL.Query().Get("redirect_uri")
	errorURI := r.URL.Query().Get("error_uri")

	if err := s.allowList.Validate(redirectURI); err != nil {
		http.Error(w, "redirect_uri is not allowed", http.StatusBadRequest)
		return
	}
	if errorURI != "" {
		if err := s.allowList.Validate(errorURI); err != nil {
			http.Error(w, "error_uri is not allowed", http.StatusBadRequest)
			return
		}
	}

	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		logger.Errorf("Failed to create session: %v", err)
		http.Error(w, "failed to begin login", http.StatusInternalServerError)
		return
	}

	encodedState, err := s.codec.Encode(state.Payload{
		RedirectURI:   redirectURI,
		ErrorURI:      errorURI,
		CorrelationID: sess.ID,
	})
	if err != nil {
		logger.Errorf("Failed to encode state: %v", err)
		http.Error(w, "failed to begin login", http.StatusInternalServerError)
		return
	}

	telemetry.LoginsStarted.Inc()
	http.Redirect(w, r, s.provider.AuthCodeURL(encodedState, sess.CodeVerifier), http.StatusFound)
}

// handleCallback finishes the login round trip. The state parameter must
// decode and re-validate before anything else happens; a bad state or a
// failed code exchange renders an error response and never redirects to an
// unvalidated target.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := s.codec.Decode(r.FormValue("state"))
	if err != nil {
		logger.Warnf("Rejected callback with invalid state: %v", err)
		telemetry.CallbackResults.WithLabelValues("invalid_state").Inc()
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	// A provider error needs no session; report it even when the login
	// attempt was already swept.
	if providerError := r.FormValue("error"); providerError != "" {
		telemetry.CallbackResults.WithLabelValues("provider_error").Inc()
		s.redirectWithError(w, r, payload, providerError, r.FormValue("error_description"))
		return
	}

	sess, err := s.sessions.Get(r.Context(), payload.CorrelationID)
	if err != nil {
		logger.Warnf("Callback for unknown session: %v", err)
		telemetry.CallbackResults.WithLabelValues("unknown_session").Inc()
		status := http.StatusBadRequest
		if !errors.IsNotFound(err) {
			status = http.StatusInternalServerError
		}
		http.Error(w, "login attempt is no longer valid", status)
		return
	}

	code := r.FormValue("code")
	if code == "" {
		telemetry.CallbackResults.WithLabelValues("invalid_request").Inc()
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	login, err := s.provider.ExchangeCode(r.Context(), code, sess.CodeVerifier)
	if err != nil {
		logger.Errorf("Authorization code exchange failed: %v", err)
		telemetry.CallbackResults.WithLabelValues("exchange_failed").Inc()
		http.Error(w, "login failed", http.StatusBadGateway)
		return
	}

	token, err := s.sessions.Activate(r.Context(), sess.ID, login.OwnerID, login.RefreshSecret)
	if err != nil {
		logger.Errorf("Failed to activate session: %v", err)
		telemetry.CallbackResults.WithLabelValues("activation_failed").Inc()
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	auth.SetSessionCookie(w, r, token, s.sessionLifetime)
	telemetry.CallbackResults.WithLabelValues("success").Inc()
	http.Redirect(w, r, payload.RedirectURI, http.StatusFound)
}

// redirectWithError forwards a provider error to the caller's error URI,
// or to the redirect URI when no error URI was registered. Both targets
// were validated when the state payload was decoded.
func (s *Server) redirectWithError(w http.ResponseWriter, r *http.Request, payload state.Payload, code, description string) {
	target := payload.ErrorURI
	if target == "" {
		target = payload.RedirectURI
	}

	u, err := url.Parse(target)
	if err != nil {
		http.Error(w, "login failed", http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusFound)
}

// handleLogout terminates the cookie's session, clears the cookie and
// optionally redirects. Termination works on the session id alone so even a
// cookie that no longer resolves still ends its session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI != "" {
		if err := s.allowList.Validate(redirectURI); err != nil {
			http.Error(w, "redirect_uri is not allowed", http.StatusBadRequest)
			return
		}
	}

	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && len(cookie.Value) >= session.IDLength {
		id := cookie.Value[:session.IDLength]
		switch err := s.sessions.Terminate(r.Context(), id); {
		case err == nil:
			telemetry.SessionsTerminated.Inc()
		case errors.IsNotFound(err):
			// Already swept; nothing to terminate.
		default:
			logger.Errorf("Failed to terminate session: %v", err)
			http.Error(w, "logout failed", http.StatusInternalServerError)
			return
		}
	}
	auth.ClearSessionCookie(w, r)

	if redirectURI != "" {
		http.Redirect(w, r, redirectURI, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// userInfoResponse is the identity query response. An anonymous request is
// a normal response with loggedIn false, not an error.
type userInfoResponse struct {
	LoggedIn bool     `json:"loggedIn"`
	Ident    string   `json:"ident,omitempty"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	resp := userInfoResponse{}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		resp = userInfoResponse{
			LoggedIn: true,
			Ident:    identity.Subject,
			Name:     identity.Name,
			Email:    identity.Email,
			Groups:   identity.Groups,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("Failed to encode userinfo response: %v", err)
	}
}
