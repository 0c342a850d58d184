package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/navikt/polly-sub000/pkg/errors"
)

// jwksRegisterTimeout bounds the initial key set fetch at startup.
const jwksRegisterTimeout = 5 * time.Second

// TokenValidatorConfig configures a TokenValidator.
type TokenValidatorConfig struct {
	// Issuer is the expected 'iss' claim, the identity provider's URL.
	Issuer string

	// ClientID is this application's client identifier; tokens must carry
	// it in their audience.
	ClientID string

	// JWKSURL is the provider's key set endpoint.
	JWKSURL string

	// AllowedAppIDs are the caller applications permitted through the
	// 'azp' claim check.
	AllowedAppIDs []string

	// HTTPClient overrides the client used for key set fetches.
	HTTPClient *http.Client
}

// TokenValidator validates access tokens against the identity provider's
// published key set. Keys are cached and only refetched when a token
// references an unknown key id.
type TokenValidator struct {
	issuer        string
	clientID      string
	jwksURL       string
	allowedAppIDs []string
	roles         RoleMappings
	jwksCache     *jwk.Cache
}

// NewTokenValidator creates a validator and primes its key set cache.
func NewTokenValidator(ctx context.Context, cfg TokenValidatorConfig, roles RoleMappings) (*TokenValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("JWKS URL is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	httprcClient := httprc.NewClient(httprc.WithHTTPClient(client))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	registerCtx, cancel := context.WithTimeout(ctx, jwksRegisterTimeout)
	defer cancel()
	if err := cache.Register(registerCtx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	return &TokenValidator{
		issuer:        cfg.Issuer,
		clientID:      cfg.ClientID,
		jwksURL:       cfg.JWKSURL,
		allowedAppIDs: cfg.AllowedAppIDs,
		roles:         roles,
		jwksCache:     cache,
	}, nil
}

// ValidateToken verifies the token's signature and claims and returns the
// identity it describes. All failures are Unauthorized so the caller can
// degrade the request to anonymous instead of failing it.
func (v *TokenValidator) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return v.getKeyFromJWKS(ctx, token)
	})
	if err != nil {
		return nil, errors.NewUnauthorizedError("failed to parse token", err)
	}
	if !token.Valid {
		return nil, errors.NewUnauthorizedError("token is invalid", nil)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.NewUnauthorizedError("token carries no claims", nil)
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	return v.identityFromClaims(claims), nil
}

// getKeyFromJWKS resolves the token's signing key from the cached key set,
// refetching the set once when the key id is unknown.
func (v *TokenValidator) getKeyFromJWKS(ctx context.Context, token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := v.jwksCache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		// The provider may have rotated keys since the last fetch.
		keySet, err = v.jwksCache.Refresh(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
		}
		if key, found = keySet.LookupKeyID(kid); !found {
			return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
		}
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}

// validateClaims checks issuer, audience, expiry, and the caller-app
// allow-list.
func (v *TokenValidator) validateClaims(claims jwt.MapClaims) error {
	issuer, err := claims.GetIssuer()
	if err != nil {
		return errors.NewUnauthorizedError("token has no issuer", err)
	}
	if strings.TrimSpace(issuer) != strings.TrimSpace(v.issuer) {
		return errors.NewUnauthorizedError(fmt.Sprintf("unexpected issuer %q", issuer), nil)
	}

	audiences, err := claims.GetAudience()
	if err != nil {
		return errors.NewUnauthorizedError("token has no audience", err)
	}
	found := false
	for _, aud := range audiences {
		if aud == v.clientID {
			found = true
			break
		}
	}
	if !found {
		return errors.NewUnauthorizedError("token audience does not include this application", nil)
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil || expiry.Before(time.Now()) {
		return errors.NewUnauthorizedError("token is expired", err)
	}

	appID, _ := claims["azp"].(string)
	if appID == "" {
		return errors.NewUnauthorizedError("token has no azp claim", nil)
	}
	allowed := false
	for _, id := range v.allowedAppIDs {
		if id == appID {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.NewUnauthorizedError(fmt.Sprintf("caller application %q is not allowed", appID), nil)
	}

	return nil
}

// identityFromClaims builds the request identity from validated claims.
func (v *TokenValidator) identityFromClaims(claims jwt.MapClaims) *Identity {
	identity := &Identity{}
	identity.Subject, _ = claims["sub"].(string)
	identity.Name, _ = claims["name"].(string)
	identity.Email, _ = claims["email"].(string)
	identity.AppID, _ = claims["azp"].(string)

	if rawGroups, ok := claims["groups"].([]any); ok {
		for _, g := range rawGroups {
			if group, ok := g.(string); ok {
				identity.Groups = append(identity.Groups, group)
			}
		}
	}
	identity.Roles = v.roles.RolesFor(identity.Groups)
	return identity
}
