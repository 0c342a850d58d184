package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/navikt/polly-sub000/pkg/errors"
	"github.com/navikt/polly-sub000/pkg/logger"
	"github.com/navikt/polly-sub000/pkg/telemetry"
)

// maxResponseSize bounds token endpoint responses.
const maxResponseSize = 1024 * 1024 // 1MB

// defaultTokenLifetime is assumed when the provider omits expires_in.
const defaultTokenLifetime = time.Hour

// Cache key kinds. User tokens are additionally keyed by a hash of the
// refresh secret so tokens for different sessions never collide.
const (
	kindUser        = "user"
	kindApplication = "app"
)

// Config holds the relying-party registration with the identity provider.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// HTTPClient overrides the client used for all provider traffic.
	HTTPClient *http.Client
}

// Login is the outcome of a successful authorization-code exchange.
type Login struct {
	// OwnerID is the subject of the verified ID token.
	OwnerID string

	// RefreshSecret is the refresh credential stored (encrypted) on the
	// session.
	RefreshSecret string

	AccessToken string
	Expiry      time.Time
}

// Provider acquires tokens from the identity provider. Refresh and
// client-credentials exchanges go through the injected Cache; the
// authorization-code exchange is single use and never cached.
type Provider struct {
	oauth      oauth2.Config
	verifier   *oidc.IDTokenVerifier
	jwksURI    string
	httpClient *http.Client
	cache      *Cache
}

// NewProvider performs OIDC discovery against the issuer and returns a
// provider bound to the discovered endpoints.
func NewProvider(ctx context.Context, cfg Config, cache *Cache) (*Provider, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, client), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
	}

	var claims struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := discovered.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to read discovery document: %w", err)
	}

	return &Provider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     discovered.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		verifier:   discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		jwksURI:    claims.JWKSURI,
		httpClient: client,
		cache:      cache,
	}, nil
}

// JWKSURI returns the discovered key set endpoint, for the JWT validator.
func (p *Provider) JWKSURI() string {
	return p.jwksURI
}

// AuthCodeURL builds the provider authorization URL for a login round trip.
// The PKCE challenge is derived from the session's code verifier.
func (p *Provider) AuthCodeURL(state, codeVerifier string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(codeVerifier),
	)
}

// ExchangeCode redeems an authorization code for tokens and verifies the
// returned ID token. The refresh token is read from the exchange result's
// own field, never from provider internals.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Login, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	telemetry.TokenExchanges.WithLabelValues("authorization_code").Inc()
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, errors.NewTokenAcquisitionError("authorization code exchange failed", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.NewTokenAcquisitionError("token response is missing an ID token", nil)
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.NewTokenAcquisitionError("ID token verification failed", err)
	}

	if token.RefreshToken == "" {
		return nil, errors.NewTokenAcquisitionError("token response is missing a refresh token", nil)
	}

	return &Login{
		OwnerID:       idToken.Subject,
		RefreshSecret: token.RefreshToken,
		AccessToken:   token.AccessToken,
		Expiry:        token.Expiry,
	}, nil
}

// GetAccessToken returns an access token for the given refresh credential
// and scope, serving from cache when possible.
func (p *Provider) GetAccessToken(ctx context.Context, refreshSecret, scope string) (string, error) {
	key := cacheKey(kindUser, scope, refreshSecret)
	return p.cache.GetOrLoad(ctx, key, func(ctx context.Context) (Entry, error) {
		return p.refreshExchange(ctx, refreshSecret, scope)
	})
}

// GetApplicationToken returns a service-identity access token for the given
// scope via the client-credentials grant, serving from cache when possible.
func (p *Provider) GetApplicationToken(ctx context.Context, scope string) (string, error) {
	key := cacheKey(kindApplication, scope, p.oauth.ClientSecret)
	return p.cache.GetOrLoad(ctx, key, func(ctx context.Context) (Entry, error) {
		cc := clientcredentials.Config{
			ClientID:     p.oauth.ClientID,
			ClientSecret: p.oauth.ClientSecret,
			TokenURL:     p.oauth.Endpoint.TokenURL,
		}
		if scope != "" {
			cc.Scopes = []string{scope}
		}

		telemetry.TokenExchanges.WithLabelValues("client_credentials").Inc()
		token, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient))
		if err != nil {
			return Entry{}, errors.NewTokenAcquisitionError("client credentials exchange failed", err)
		}
		expiry := token.Expiry
		if expiry.IsZero() {
			expiry = time.Now().Add(defaultTokenLifetime)
		}
		return Entry{Value: token.AccessToken, Expiry: expiry}, nil
	})
}

// refreshExchange performs the refresh-token grant directly against the
// token endpoint so a per-call scope can be requested.
func (p *Provider) refreshExchange(ctx context.Context, refreshSecret, scope string) (Entry, error) {
	params := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshSecret},
		"client_id":     {p.oauth.ClientID},
		"client_secret": {p.oauth.ClientSecret},
	}
	if scope != "" {
		params.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.oauth.Endpoint.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return Entry{}, errors.NewTokenAcquisitionError("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	telemetry.TokenExchanges.WithLabelValues("refresh_token").Inc()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Entry{}, errors.NewTokenAcquisitionError("token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Entry{}, errors.NewTokenAcquisitionError("failed to read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var tokenError tokenErrorResponse
		if err := json.Unmarshal(body, &tokenError); err == nil && tokenError.Error != "" {
			return Entry{}, errors.NewTokenAcquisitionError(
				fmt.Sprintf("token request failed: %s - %s", tokenError.Error, tokenError.ErrorDescription), nil)
		}
		logger.Debugw("Token request failed", "status", resp.StatusCode, "body", string(body))
		return Entry{}, errors.NewTokenAcquisitionError(
			fmt.Sprintf("token request failed with status %d", resp.StatusCode), nil)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return Entry{}, errors.NewTokenAcquisitionError("failed to parse token response", err)
	}
	if tokenResp.AccessToken == "" {
		return Entry{}, errors.NewTokenAcquisitionError("token response missing access_token", nil)
	}

	expiry := time.Now().Add(defaultTokenLifetime)
	if tokenResp.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return Entry{Value: tokenResp.AccessToken, Expiry: expiry}, nil
}

// tokenResponse represents the response from the token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// tokenErrorResponse represents an error response from the token endpoint.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
