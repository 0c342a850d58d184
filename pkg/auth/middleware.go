package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/navikt/polly-sub000/pkg/logger"
	"github.com/navikt/polly-sub000/pkg/session"
	"github.com/navikt/polly-sub000/pkg/telemetry"
)

// SessionResolver resolves and touches sessions for cookie credentials.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (session.Session, error)
	Touch(ctx context.Context, s session.Session) error
}

// AccessTokenSource turns a session's refresh secret into an access token.
type AccessTokenSource interface {
	GetAccessToken(ctx context.Context, refreshSecret, scope string) (string, error)
}

// Authenticator is the request authentication middleware. A request with a
// valid credential gets an Identity attached to its context; everything
// else passes through anonymous. Credential failures never fail the
// request here.
type Authenticator struct {
	validator *TokenValidator
	sessions  SessionResolver
	tokens    AccessTokenSource
	scope     string
}

// NewAuthenticator wires the authenticator. The scope is requested on
// refresh exchanges for cookie-authenticated requests.
func NewAuthenticator(validator *TokenValidator, sessions SessionResolver, tokens AccessTokenSource, scope string) *Authenticator {
	return &Authenticator{
		validator: validator,
		sessions:  sessions,
		tokens:    tokens,
		scope:     scope,
	}
}

// Middleware authenticates the request and attaches the identity, if any,
// to the request context. The identity's lifetime is the request: it lives
// only on the derived context and is gone when the handler returns.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity := a.authenticate(w, r); identity != nil {
			r = r.WithContext(WithIdentity(r.Context(), identity))
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate tries the session cookie first, then the bearer header. A
// failing cookie is cleared so the browser stops sending it.
func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request) *Identity {
	ctx := r.Context()

	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		identity, err := a.fromSessionToken(ctx, cookie.Value)
		if err == nil {
			telemetry.AuthenticatedRequests.WithLabelValues("cookie").Inc()
			return identity
		}
		logger.Debugf("Session cookie rejected: %v", err)
		telemetry.RejectedCredentials.WithLabelValues("cookie").Inc()
		ClearSessionCookie(w, r)
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		identity, err := a.validator.ValidateToken(ctx, token)
		if err == nil {
			telemetry.AuthenticatedRequests.WithLabelValues("bearer").Inc()
			return identity
		}
		logger.Debugf("Bearer token rejected: %v", err)
		telemetry.RejectedCredentials.WithLabelValues("bearer").Inc()
	}

	return nil
}

// fromSessionToken resolves the session, exchanges its refresh secret for
// an access token (cache-first), and validates that token like any other.
func (a *Authenticator) fromSessionToken(ctx context.Context, token string) (*Identity, error) {
	sess, err := a.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	accessToken, err := a.tokens.GetAccessToken(ctx, sess.RefreshSecret, a.scope)
	if err != nil {
		return nil, err
	}

	identity, err := a.validator.ValidateToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if err := a.sessions.Touch(ctx, sess); err != nil {
		logger.Warnf("Failed to refresh session activity: %v", err)
	}
	return identity, nil
}
