package reddit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/steveyegge/pubhub/internal/telemetry"
	"github.com/steveyegge/pubhub/internal/types"
)

const (
	// serviceTokenSkew is subtracted from the reported lifetime of a service token
	serviceTokenSkew = 60 * time.Second

	// UserTokenRefreshWindow is how close to expiry a user token gets refreshed
	UserTokenRefreshWindow = 5 * time.Minute
)

const (
	grantClientCredentials = "client_credentials"
	grantRefreshToken      = "refresh_token"
	grantAuthorizationCode = "authorization_code"
)

// tokenCache is the single service-token slot. The mutex guards the slot
// only; two callers that both miss will both hit the endpoint.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (c *tokenCache) get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && now.Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

func (c *tokenCache) set(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
}

// userAgentTransport stamps the app User-Agent on token requests
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// TokenManager produces valid bearer tokens for the service identity and for
// linked user accounts. It never touches storage: refreshed user credentials
// are returned to the caller to persist.
type TokenManager struct {
	cfg   Config
	cache tokenCache

	// oauthClient is handed to x/oauth2 through the request context
	oauthClient *http.Client
}

// NewTokenManager creates a token manager
func NewTokenManager(cfg Config) *TokenManager {
	cfg = cfg.withDefaults()
	client := *cfg.HTTPClient
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = &userAgentTransport{base: base, userAgent: cfg.UserAgent}
	return &TokenManager{cfg: cfg, oauthClient: &client}
}

func (m *TokenManager) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (m *TokenManager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.oauthClient)
}

// ServiceToken returns the cached app-only token, fetching a new one with the
// client-credentials grant when the cache is empty or stale
func (m *TokenManager) ServiceToken(ctx context.Context) (string, error) {
	now := m.cfg.Clock.Now()
	if token, ok := m.cache.get(now); ok {
		m.cfg.Logger.Debugw("Using cached service token")
		return token, nil
	}
	if err := m.checkCredentials(); err != nil {
		return "", err
	}

	cc := &clientcredentials.Config{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
		TokenURL:     m.cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := cc.Token(m.oauthContext(ctx))
	if err != nil {
		return "", m.grantError(grantClientCredentials, err)
	}
	lifetime, err := tokenLifetime(grantClientCredentials, tok)
	if err != nil {
		return "", err
	}
	telemetry.TokenRefreshes.WithLabelValues("service").Inc()

	m.cache.set(tok.AccessToken, now.Add(lifetime-serviceTokenSkew))
	m.cfg.Logger.Debugw("Service token acquired", "expires_in", lifetime, "scope", tokenScope(tok))
	return tok.AccessToken, nil
}

// UserToken returns a usable access token for a linked account. When the
// token expires within UserTokenRefreshWindow it is refreshed and the updated
// credential is returned as refreshed; otherwise refreshed is nil.
func (m *TokenManager) UserToken(ctx context.Context, cred *types.UserCredential) (string, *types.UserCredential, error) {
	if cred == nil || (cred.AccessToken == "" && cred.RefreshToken == "") {
		return "", nil, ErrReconnectRequired
	}

	now := m.cfg.Clock.Now()
	if cred.AccessToken != "" && !cred.ExpiresWithin(now, UserTokenRefreshWindow) {
		return cred.AccessToken, nil, nil
	}
	if cred.RefreshToken == "" {
		return "", nil, fmt.Errorf("token expired without refresh token: %w", ErrReconnectRequired)
	}

	m.cfg.Logger.Infow("User token near expiry, refreshing", "username", cred.Username, "expires_at", cred.ExpiresAt)
	fresh, err := m.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", nil, err
	}
	fresh.Username = cred.Username
	if fresh.Scope == "" {
		fresh.Scope = cred.Scope
	}
	return fresh.AccessToken, fresh, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// is carried over when the endpoint does not issue a new one.
func (m *TokenManager) Refresh(ctx context.Context, refreshToken string) (*types.UserCredential, error) {
	if err := m.checkCredentials(); err != nil {
		return nil, err
	}
	tok, err := m.oauthConfig(m.cfg.RedirectURI).
		TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).
		Token()
	if err != nil {
		return nil, m.grantError(grantRefreshToken, err)
	}
	lifetime, err := tokenLifetime(grantRefreshToken, tok)
	if err != nil {
		return nil, err
	}
	telemetry.TokenRefreshes.WithLabelValues("user").Inc()

	kept := tok.RefreshToken
	if kept == "" {
		kept = refreshToken
	}
	return &types.UserCredential{
		AccessToken:  tok.AccessToken,
		RefreshToken: kept,
		ExpiresAt:    m.cfg.Clock.Now().Add(lifetime),
		Scope:        tokenScope(tok),
	}, nil
}

// ExchangeCode performs the one-time authorization-code grant that links an account
func (m *TokenManager) ExchangeCode(ctx context.Context, code, redirectURI string) (*types.UserCredential, error) {
	if err := m.checkCredentials(); err != nil {
		return nil, err
	}
	if redirectURI == "" {
		redirectURI = m.cfg.RedirectURI
	}
	tok, err := m.oauthConfig(redirectURI).Exchange(m.oauthContext(ctx), code)
	if err != nil {
		return nil, m.grantError(grantAuthorizationCode, err)
	}
	lifetime, err := tokenLifetime(grantAuthorizationCode, tok)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		return nil, &TokenError{Grant: grantAuthorizationCode, StatusCode: http.StatusOK,
			Err: fmt.Errorf("%w: refresh_token missing", ErrMalformedResponse)}
	}
	telemetry.TokenRefreshes.WithLabelValues("exchange").Inc()

	return &types.UserCredential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.cfg.Clock.Now().Add(lifetime),
		Scope:        tokenScope(tok),
	}, nil
}

func (m *TokenManager) checkCredentials() error {
	if m.cfg.ClientID == "" || m.cfg.ClientSecret == "" {
		return ErrCredentialsNotConfigured
	}
	return nil
}

// grantError converts an x/oauth2 failure into a TokenError carrying the
// endpoint status and body, tagged with what the rejection means
func (m *TokenManager) grantError(grant string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("failed to request %s token: %w", grant, err)
		}
		// Unparseable body or missing access_token on a 2xx
		return &TokenError{Grant: grant, StatusCode: http.StatusOK,
			Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	status := http.StatusOK
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	tokenErr := &TokenError{
		Grant:      grant,
		StatusCode: status,
		Code:       retrieveErr.ErrorCode,
		Body:       truncateBody(retrieveErr.Body),
		Err:        grantRejection(grant, status),
	}
	m.cfg.Logger.Errorw("Token request failed", "grant", grant, "status", status, "code", tokenErr.Code, "body", tokenErr.Body)
	return tokenErr
}

// grantRejection says what a refused grant means for the caller. A refused
// refresh means the user must reconnect; any other refused grant means the
// app credentials (or the authorization code) are invalid. 2xx here is the
// endpoint answering 200 {"error": ...}. Retriable statuses return nil.
func grantRejection(grant string, status int) error {
	ok := status >= 200 && status <= 299
	switch grant {
	case grantRefreshToken:
		if ok || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return ErrReconnectRequired
		}
	default:
		if ok || status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
			return ErrInvalidCredentials
		}
	}
	return nil
}

// tokenLifetime reads expires_in against the injected clock rather than the
// wall-clock Expiry x/oauth2 computes
func tokenLifetime(grant string, tok *oauth2.Token) (time.Duration, error) {
	seconds := tok.ExpiresIn
	if seconds <= 0 {
		if v, ok := tok.Extra("expires_in").(float64); ok {
			seconds = int64(v)
		}
	}
	if seconds <= 0 {
		return 0, &TokenError{Grant: grant, StatusCode: http.StatusOK,
			Err: fmt.Errorf("%w: expires_in missing or non-positive", ErrMalformedResponse)}
	}
	return time.Duration(seconds) * time.Second, nil
}

func tokenScope(tok *oauth2.Token) string {
	scope, _ := tok.Extra("scope").(string)
	return scope
}
