package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navikt/polly-sub000/internal/fakeidp"
	"github.com/navikt/polly-sub000/pkg/errors"
)

const (
	testClientID = "polly-client"
	testAppID    = "trusted-frontend"
)

func newTestValidator(t *testing.T, idp *fakeidp.Server, roles RoleMappings) *TokenValidator {
	t.Helper()
	validator, err := NewTokenValidator(context.Background(), TokenValidatorConfig{
		Issuer:        idp.Issuer(),
		ClientID:      testClientID,
		JWKSURL:       idp.JWKSURL(),
		AllowedAppIDs: []string{testAppID},
	}, roles)
	require.NoError(t, err)
	return validator
}

func TestValidateTokenAcceptsWellFormedToken(t *testing.T) {
	t.Parallel()

	idp, err := fakeidp.New(testClientID)
	require.NoError(t, err)
	t.Cleanup(idp.Close)

	validator := newTestValidator(t, idp, RoleMappings{
		WriteGroups: []string{"team-writers"},
		AdminGroups: []string{"team-admins"},
	})

	token, err := idp.SignToken(jwt.MapClaims{
		"azp":    testAppID,
		"name":   "Ada Lovelace",
		"email":  "ada@example.com",
		"groups": []string{"team-writers", "unrelated"},
	})
	require.NoError(t, err)

	identity, err := validator.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, fakeidp.DefaultSubject, identity.Subject)
	assert.Equal(t, "Ada Lovelace", identity.Name)
	assert.Equal(t, "ada@example.com", identity.Email)
	assert.Equal(t, testAppID, identity.AppID)
	assert.Equal(t, []string{"team-writers", "unrelated"}, identity.Groups)
	assert.True(t, identity.HasRole(RoleRead))
	assert.True(t, identity.HasRole(RoleWrite))
	assert.False(t, identity.HasRole(RoleAdmin))
}

func TestValidateTokenRejections(t *testing.T) {
	t.Parallel()

	idp, err := fakeidp.New(testClientID)
	require.NoError(t, err)
	t.Cleanup(idp.Close)

	validator := newTestValidator(t, idp, RoleMappings{})

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{
			name:   "wrong issuer",
			claims: jwt.MapClaims{"azp": testAppID, "iss": "https://evil.example.com"},
		},
		{
			name:   "wrong audience",
			claims: jwt.MapClaims{"azp": testAppID, "aud": "someone-else"},
		},
		{
			name:   "expired",
			claims: jwt.MapClaims{"azp": testAppID, "exp": time.Now().Add(-time.Minute).Unix()},
		},
		{
			name:   "missing azp",
			claims: jwt.MapClaims{},
		},
		{
			name:   "azp not in allow list",
			claims: jwt.MapClaims{"azp": "unknown-frontend"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			token, err := idp.SignToken(tt.claims)
			require.NoError(t, err)

			identity, err := validator.ValidateToken(context.Background(), token)
			assert.Nil(t, identity)
			assert.True(t, errors.IsUnauthorized(err), "expected unauthorized, got %v", err)
		})
	}
}

func TestValidateTokenRejectsUnknownSigner(t *testing.T) {
	t.Parallel()

	idp, err := fakeidp.New(testClientID)
	require.NoError(t, err)
	t.Cleanup(idp.Close)

	validator := newTestValidator(t, idp, RoleMappings{})

	rogueKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	claims := jwt.MapClaims{
		"iss": idp.Issuer(),
		"aud": testClientID,
		"sub": fakeidp.DefaultSubject,
		"azp": testAppID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	// Signed with a key the provider never published. Both an unknown kid
	// and a forged known kid must fail.
	token, err := idp.SignTokenWithKey(claims, rogueKey, "rogue-key")
	require.NoError(t, err)
	_, err = validator.ValidateToken(context.Background(), token)
	assert.True(t, errors.IsUnauthorized(err))

	token, err = idp.SignTokenWithKey(claims, rogueKey, fakeidp.KeyID)
	require.NoError(t, err)
	_, err = validator.ValidateToken(context.Background(), token)
	assert.True(t, errors.IsUnauthorized(err))
}

func TestValidateTokenRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	idp, err := fakeidp.New(testClientID)
	require.NoError(t, err)
	t.Cleanup(idp.Close)

	validator := newTestValidator(t, idp, RoleMappings{})

	for _, input := range []string{"", "not-a-jwt", "aaa.bbb.ccc"} {
		_, err := validator.ValidateToken(context.Background(), input)
		assert.True(t, errors.IsUnauthorized(err), "input %q", input)
	}
}

func TestValidateTokenRejectsSymmetricAlgorithm(t *testing.T) {
	t.Parallel()

	idp, err := fakeidp.New(testClientID)
	require.NoError(t, err)
	t.Cleanup(idp.Close)

	validator := newTestValidator(t, idp, RoleMappings{})

	// An HS256 token must be refused before any key lookup happens.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": idp.Issuer(),
		"aud": testClientID,
		"azp": testAppID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = fakeidp.KeyID
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), signed)
	assert.True(t, errors.IsUnauthorized(err))
}

func TestNewTokenValidatorRequiresJWKSURL(t *testing.T) {
	t.Parallel()

	_, err := NewTokenValidator(context.Background(), TokenValidatorConfig{
		Issuer:   "https://idp.example.com",
		ClientID: testClientID,
	}, RoleMappings{})
	require.Error(t, err)
}
