package core

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// stubProvider drives the exchange, health, and callback paths in tests.
// Unset fn fields fall back to a plain OAuth2 form shape against endpoint.
type stubProvider struct {
	id                string
	usesPKCE          bool
	scopes            []string
	tokenEndpoint     string
	identityEndpoint  string
	beginAuthFn       func(ctx context.Context, req AuthRequest) (AuthRedirect, error)
	tokenRequestFn    func(ctx context.Context, form TokenRequestForm) (*http.Request, error)
	identityRequestFn func(ctx context.Context, accessToken string) (*http.Request, error)
	accountIDFn       func(body []byte) (string, error)
	classifyFn        func(statusCode int, body []byte) HealthStatus
}

func (p *stubProvider) ID() string {
	if p.id == "" {
		return "stub"
	}
	return p.id
}

func (p *stubProvider) AuthKind() string { return "oauth2" }

func (p *stubProvider) Scopes() []string { return p.scopes }

func (p *stubProvider) UsesPKCE() bool { return p.usesPKCE }

func (p *stubProvider) BeginAuth(ctx context.Context, req AuthRequest) (AuthRedirect, error) {
	if p.beginAuthFn != nil {
		return p.beginAuthFn(ctx, req)
	}
	authURL := url.URL{
		Scheme: "https",
		Host:   "provider.test",
		Path:   "/oauth2/authorize",
	}
	query := url.Values{}
	query.Set("state", req.State)
	query.Set("redirect_uri", req.RedirectURI)
	if req.CodeChallenge != "" {
		query.Set("code_challenge", req.CodeChallenge)
		query.Set("code_challenge_method", "S256")
	}
	authURL.RawQuery = query.Encode()
	return AuthRedirect{URL: authURL.String()}, nil
}

func (p *stubProvider) TokenRequest(ctx context.Context, form TokenRequestForm) (*http.Request, error) {
	if p.tokenRequestFn != nil {
		return p.tokenRequestFn(ctx, form)
	}
	if p.tokenEndpoint == "" {
		return nil, fmt.Errorf("stub provider has no token endpoint")
	}
	values := url.Values{}
	values.Set("grant_type", string(form.GrantType))
	if form.Code != "" {
		values.Set("code", form.Code)
	}
	if form.RedirectURI != "" {
		values.Set("redirect_uri", form.RedirectURI)
	}
	if form.CodeVerifier != "" {
		values.Set("code_verifier", form.CodeVerifier)
	}
	if form.RefreshToken != "" {
		values.Set("refresh_token", form.RefreshToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenEndpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (p *stubProvider) IdentityRequest(ctx context.Context, accessToken string) (*http.Request, error) {
	if p.identityRequestFn != nil {
		return p.identityRequestFn(ctx, accessToken)
	}
	if p.identityEndpoint == "" {
		return nil, fmt.Errorf("stub provider has no identity endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.identityEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req, nil
}

func (p *stubProvider) AccountID(body []byte) (string, error) {
	if p.accountIDFn != nil {
		return p.accountIDFn(body)
	}
	return "acct-stub", nil
}

func (p *stubProvider) ClassifyIdentity(statusCode int, body []byte) HealthStatus {
	if p.classifyFn != nil {
		return p.classifyFn(statusCode, body)
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return HealthStatusActive
	case statusCode == http.StatusUnauthorized:
		return HealthStatusExpired
	case statusCode == http.StatusForbidden:
		return HealthStatusRevoked
	default:
		return HealthStatusError
	}
}

var _ Provider = (*stubProvider)(nil)

type zeroBackoff struct{}

func (zeroBackoff) NextDelay(int) time.Duration { return 0 }
