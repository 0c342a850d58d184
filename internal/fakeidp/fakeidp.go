// Package fakeidp runs an in-process OIDC identity provider for tests. It
// serves a discovery document, a JWKS endpoint, and a token endpoint that
// understands the authorization-code, refresh-token, and client-credentials
// grants, and it signs tokens with a throwaway RSA key.
package fakeidp

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Defaults used when the caller does not override the corresponding value.
const (
	DefaultSubject      = "user-123"
	DefaultCode         = "valid-auth-code"
	DefaultRefreshToken = "valid-refresh-token"
	KeyID               = "test-key-1"
)

// Server is a fake identity provider bound to an httptest.Server.
type Server struct {
	// ClientID is the relying party's registered client id, used as the
	// token audience.
	ClientID string

	// Subject is the user the authorization-code grant logs in.
	Subject string

	// Code is the only authorization code the token endpoint accepts.
	Code string

	// RefreshToken is the only refresh token the token endpoint accepts.
	RefreshToken string

	// TokenLifetime is the expires_in of issued access tokens.
	TokenLifetime time.Duration

	// FailExchanges makes the token endpoint return a 500 for refresh and
	// client-credentials grants while set.
	FailExchanges atomic.Bool

	httpServer *httptest.Server
	key        *rsa.PrivateKey
	jwks       []byte

	refreshCount atomic.Int64
	appCount     atomic.Int64
}

// New starts a fake provider. The caller owns the returned server and must
// Close it.
func New(clientID string) (*Server, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	jwks, err := marshalJWKS(key)
	if err != nil {
		return nil, err
	}

	s := &Server{
		ClientID:      clientID,
		Subject:       DefaultSubject,
		Code:          DefaultCode,
		RefreshToken:  DefaultRefreshToken,
		TokenLifetime: time.Hour,
		key:           key,
		jwks:          jwks,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("/keys", s.handleJWKS)
	mux.HandleFunc("/token", s.handleToken)
	s.httpServer = httptest.NewServer(mux)
	return s, nil
}

// marshalJWKS publishes the public half of the signing key as a key set.
func marshalJWKS(key *rsa.PrivateKey) ([]byte, error) {
	pub, err := jwk.Import(key.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to import public key: %w", err)
	}
	if err := pub.Set(jwk.KeyIDKey, KeyID); err != nil {
		return nil, fmt.Errorf("failed to set key id: %w", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return nil, fmt.Errorf("failed to set algorithm: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("failed to add key to set: %w", err)
	}
	return json.Marshal(set)
}

// Close shuts the provider down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// Issuer returns the provider's base URL.
func (s *Server) Issuer() string {
	return s.httpServer.URL
}

// JWKSURL returns the key set endpoint.
func (s *Server) JWKSURL() string {
	return s.httpServer.URL + "/keys"
}

// RefreshExchangeCount reports how many refresh-token grants were served.
func (s *Server) RefreshExchangeCount() int {
	return int(s.refreshCount.Load())
}

// AppExchangeCount reports how many client-credentials grants were served.
func (s *Server) AppExchangeCount() int {
	return int(s.appCount.Load())
}

// SignToken signs a JWT with the provider's key, applying the given claims
// on top of sensible defaults (issuer, audience, subject, one hour expiry).
// Pass overriding claims to produce deliberately invalid tokens.
func (s *Server) SignToken(claims jwt.MapClaims) (string, error) {
	merged := jwt.MapClaims{
		"iss": s.Issuer(),
		"aud": s.ClientID,
		"sub": s.Subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		merged[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, merged)
	token.Header["kid"] = KeyID
	return token.SignedString(s.key)
}

// SignTokenWithKey signs a JWT with a key the provider does not publish, to
// exercise unknown-signer rejection.
func (s *Server) SignTokenWithKey(claims jwt.MapClaims, key *rsa.PrivateKey, kid string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                                s.Issuer(),
		"authorization_endpoint":                s.Issuer() + "/authorize",
		"token_endpoint":                        s.Issuer() + "/token",
		"jwks_uri":                              s.JWKSURL(),
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.jwks)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request", "cannot parse form")
		return
	}

	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		s.handleCodeGrant(w, r)
	case "refresh_token":
		s.handleRefreshGrant(w, r)
	case "client_credentials":
		s.handleClientCredentialsGrant(w, r)
	default:
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (s *Server) handleCodeGrant(w http.ResponseWriter, r *http.Request) {
	if r.PostFormValue("code") != s.Code {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "unknown authorization code")
		return
	}
	if r.PostFormValue("code_verifier") == "" {
		tokenError(w, http.StatusBadRequest, "invalid_request", "missing PKCE verifier")
		return
	}

	idToken, err := s.SignToken(jwt.MapClaims{})
	if err != nil {
		tokenError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	s.writeTokens(w, map[string]any{
		"access_token":  "access-from-code",
		"token_type":    "Bearer",
		"expires_in":    int64(s.TokenLifetime.Seconds()),
		"refresh_token": s.RefreshToken,
		"id_token":      idToken,
	})
}

func (s *Server) handleRefreshGrant(w http.ResponseWriter, r *http.Request) {
	n := s.refreshCount.Add(1)
	if s.FailExchanges.Load() {
		tokenError(w, http.StatusInternalServerError, "server_error", "provider outage")
		return
	}
	if r.PostFormValue("refresh_token") != s.RefreshToken {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
		return
	}

	access, err := s.SignToken(jwt.MapClaims{"azp": s.ClientID})
	if err != nil {
		tokenError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	s.writeTokens(w, map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int64(s.TokenLifetime.Seconds()),
		"exchange":     n,
	})
}

func (s *Server) handleClientCredentialsGrant(w http.ResponseWriter, _ *http.Request) {
	n := s.appCount.Add(1)
	if s.FailExchanges.Load() {
		tokenError(w, http.StatusInternalServerError, "server_error", "provider outage")
		return
	}
	s.writeTokens(w, map[string]any{
		"access_token": fmt.Sprintf("app-token-%d", n),
		"token_type":   "Bearer",
		"expires_in":   int64(s.TokenLifetime.Seconds()),
	})
}

func (s *Server) writeTokens(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func tokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
