package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navikt/polly-sub000/internal/fakeidp"
	"github.com/navikt/polly-sub000/pkg/errors"
	"github.com/navikt/polly-sub000/pkg/session"
)

// fakeSessions is a SessionResolver with a single known token.
type fakeSessions struct {
	token   string
	session session.Session
	touched int
}

func (f *fakeSessions) Resolve(_ context.Context, token string) (session.Session, error) {
	if token != f.token {
		return session.Session{}, errors.NewUnauthorizedError("session not found", nil)
	}
	return f.session, nil
}

func (f *fakeSessions) Touch(_ context.Context, _ session.Session) error {
	f.touched++
	return nil
}

// fakeTokens maps refresh secrets to pre-signed access tokens.
type fakeTokens struct {
	tokens map[string]string
}

func (f *fakeTokens) GetAccessToken(_ context.Context, refreshSecret, _ string) (string, error) {
	token, ok := f.tokens[refreshSecret]
	if !ok {
		return "", errors.NewTokenAcquisitionError("unknown refresh secret", nil)
	}
	return token, nil
}

// captureHandler records the identity seen by the downstream handler.
type captureHandler struct {
	called   bool
	identity *Identity
}

func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.identity, _ = IdentityFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func newMiddlewareFixture(t *testing.T) (*fakeidp.Server, *fakeSessions, *Authenticator) {
	t.Helper()

	idp, err := fakeidp.New(testClientID)
	require.NoError(t, err)
	t.Cleanup(idp.Close)

	validator := newTestValidator(t, idp, RoleMappings{})

	accessToken, err := idp.SignToken(jwt.MapClaims{"azp": testAppID})
	require.NoError(t, err)

	sessions := &fakeSessions{
		token:   "session-cookie-token",
		session: session.Session{ID: "sess-1", OwnerID: fakeidp.DefaultSubject, RefreshSecret: "refresh-1"},
	}
	tokens := &fakeTokens{tokens: map[string]string{"refresh-1": accessToken}}

	return idp, sessions, NewAuthenticator(validator, sessions, tokens, "openid profile")
}

func doRequest(t *testing.T, authn *Authenticator, mutate func(*http.Request)) (*captureHandler, *httptest.ResponseRecorder) {
	t.Helper()

	handler := &captureHandler{}
	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/resource", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	authn.Middleware(handler).ServeHTTP(rec, req)
	require.True(t, handler.called, "downstream handler must always run")
	return handler, rec
}

func TestMiddlewareCookieCredential(t *testing.T) {
	t.Parallel()

	_, sessions, authn := newMiddlewareFixture(t)

	handler, rec := doRequest(t, authn, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "session-cookie-token"})
	})

	require.NotNil(t, handler.identity)
	assert.Equal(t, fakeidp.DefaultSubject, handler.identity.Subject)
	assert.Equal(t, 1, sessions.touched)
	assert.Empty(t, rec.Result().Cookies(), "valid cookie must not be cleared")
}

func TestMiddlewareBearerCredential(t *testing.T) {
	t.Parallel()

	idp, _, authn := newMiddlewareFixture(t)

	token, err := idp.SignToken(jwt.MapClaims{"azp": testAppID})
	require.NoError(t, err)

	handler, _ := doRequest(t, authn, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})

	require.NotNil(t, handler.identity)
	assert.Equal(t, fakeidp.DefaultSubject, handler.identity.Subject)
	assert.True(t, handler.identity.HasRole(RoleRead))
}

func TestMiddlewareAnonymousPassThrough(t *testing.T) {
	t.Parallel()

	_, _, authn := newMiddlewareFixture(t)

	handler, rec := doRequest(t, authn, nil)

	assert.Nil(t, handler.identity)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectedCookieIsCleared(t *testing.T) {
	t.Parallel()

	_, sessions, authn := newMiddlewareFixture(t)

	handler, rec := doRequest(t, authn, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale-or-forged"})
	})

	assert.Nil(t, handler.identity)
	assert.Zero(t, sessions.touched)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestMiddlewareRejectedBearerStaysAnonymous(t *testing.T) {
	t.Parallel()

	idp, _, authn := newMiddlewareFixture(t)

	// Structurally valid token failing claim checks.
	token, err := idp.SignToken(jwt.MapClaims{"azp": "unknown-frontend"})
	require.NoError(t, err)

	handler, rec := doRequest(t, authn, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})

	assert.Nil(t, handler.identity)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareBadCookieFallsBackToBearer(t *testing.T) {
	t.Parallel()

	idp, _, authn := newMiddlewareFixture(t)

	token, err := idp.SignToken(jwt.MapClaims{"azp": testAppID})
	require.NoError(t, err)

	handler, rec := doRequest(t, authn, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale-or-forged"})
		r.Header.Set("Authorization", "Bearer "+token)
	})

	require.NotNil(t, handler.identity)
	assert.Equal(t, fakeidp.DefaultSubject, handler.identity.Subject)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestRolesForBaselineAndMappings(t *testing.T) {
	t.Parallel()

	mappings := RoleMappings{
		WriteGroups: []string{"writers"},
		AdminGroups: []string{"admins"},
		SuperGroups: []string{"root"},
	}

	assert.Equal(t, []Role{RoleRead}, mappings.RolesFor(nil))
	assert.Equal(t, []Role{RoleRead, RoleWrite}, mappings.RolesFor([]string{"writers"}))
	assert.Equal(t, []Role{RoleRead, RoleWrite, RoleAdmin, RoleSuper},
		mappings.RolesFor([]string{"writers", "admins", "root"}))
	// Duplicate group membership must not duplicate roles.
	assert.Equal(t, []Role{RoleRead, RoleWrite}, mappings.RolesFor([]string{"writers", "writers"}))
}
