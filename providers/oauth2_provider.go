package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const defaultAuthKind = "oauth2_auth_code"

// IdentitySpec is the provider-mandated identity request, replayed verbatim
// by health checks. Some providers are strict about the exact shape: wrong
// method, missing content type, or an unexpected body gets rejected before
// the token is even looked at.
type IdentitySpec struct {
	Method      string
	URL         string
	ContentType string
	Accept      string
	Body        []byte
}

// ClassifyFunc maps a non-2xx identity response onto a health status using
// the provider's error vocabulary.
type ClassifyFunc func(statusCode int, body []byte) core.HealthStatus

// AccountIDFunc extracts the provider-side account id from a successful
// identity response body.
type AccountIDFunc func(body []byte) (string, error)

type OAuth2Config struct {
	ID                 string
	AuthURL            string
	TokenURL           string
	ClientID           string
	ClientSecret       string
	ClientSecretInBody bool
	DefaultScopes      []string
	UsesPKCE           bool
	// ExtraAuthParams are appended to the authorization URL; some providers
	// need non-standard knobs (access_type, token_access_type, prompt).
	ExtraAuthParams map[string]string
	Identity        IdentitySpec
	Classify        ClassifyFunc
	AccountID       AccountIDFunc
}

// OAuth2Provider is the shared adapter base for authorization-code
// providers. Per-provider packages configure it with their endpoints,
// identity contract, and error-classification heuristics.
type OAuth2Provider struct {
	cfg OAuth2Config
}

func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, fmt.Errorf("providers: auth url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("providers: client id is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.Identity.URL) == "" {
		return nil, fmt.Errorf("providers: identity url is required for provider %q", cfg.ID)
	}

	cfg.AuthURL = strings.TrimSpace(cfg.AuthURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.DefaultScopes = append([]string(nil), cfg.DefaultScopes...)
	if strings.TrimSpace(cfg.Identity.Method) == "" {
		cfg.Identity.Method = http.MethodGet
	}
	if cfg.Classify == nil {
		cfg.Classify = DefaultClassify
	}
	if cfg.AccountID == nil {
		cfg.AccountID = JSONAccountID("id")
	}

	return &OAuth2Provider{cfg: cfg}, nil
}

func (p *OAuth2Provider) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

func (*OAuth2Provider) AuthKind() string {
	return defaultAuthKind
}

func (p *OAuth2Provider) Scopes() []string {
	if p == nil {
		return []string{}
	}
	return append([]string(nil), p.cfg.DefaultScopes...)
}

func (p *OAuth2Provider) UsesPKCE() bool {
	if p == nil {
		return false
	}
	return p.cfg.UsesPKCE
}

func (p *OAuth2Provider) BeginAuth(_ context.Context, req core.AuthRequest) (core.AuthRedirect, error) {
	if p == nil {
		return core.AuthRedirect{}, fmt.Errorf("providers: oauth2 provider is nil")
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		return core.AuthRedirect{}, fmt.Errorf("providers: state is required")
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = p.cfg.DefaultScopes
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", p.cfg.ClientID)
	if redirectURI := strings.TrimSpace(req.RedirectURI); redirectURI != "" {
		values.Set("redirect_uri", redirectURI)
	}
	if len(scopes) > 0 {
		values.Set("scope", strings.Join(scopes, " "))
	}
	values.Set("state", state)
	if p.cfg.UsesPKCE && strings.TrimSpace(req.CodeChallenge) != "" {
		values.Set("code_challenge", strings.TrimSpace(req.CodeChallenge))
		values.Set("code_challenge_method", "S256")
	}
	for key, value := range p.cfg.ExtraAuthParams {
		if strings.TrimSpace(key) != "" {
			values.Set(key, value)
		}
	}

	authURL := p.cfg.AuthURL
	if strings.Contains(authURL, "?") {
		authURL += "&" + values.Encode()
	} else {
		authURL += "?" + values.Encode()
	}
	return core.AuthRedirect{URL: authURL}, nil
}

func (p *OAuth2Provider) TokenRequest(ctx context.Context, form core.TokenRequestForm) (*http.Request, error) {
	if p == nil {
		return nil, fmt.Errorf("providers: oauth2 provider is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := url.Values{}
	switch form.GrantType {
	case core.GrantTypeAuthorizationCode:
		code := strings.TrimSpace(form.Code)
		if code == "" {
			return nil, fmt.Errorf("providers: auth code is required")
		}
		values.Set("grant_type", "authorization_code")
		values.Set("code", code)
		if redirectURI := strings.TrimSpace(form.RedirectURI); redirectURI != "" {
			values.Set("redirect_uri", redirectURI)
		}
		if verifier := strings.TrimSpace(form.CodeVerifier); verifier != "" {
			values.Set("code_verifier", verifier)
		}
	case core.GrantTypeRefreshToken:
		refreshToken := strings.TrimSpace(form.RefreshToken)
		if refreshToken == "" {
			return nil, fmt.Errorf("providers: refresh token is required")
		}
		values.Set("grant_type", "refresh_token")
		values.Set("refresh_token", refreshToken)
	default:
		return nil, fmt.Errorf("providers: unsupported grant type %q", form.GrantType)
	}
	values.Set("client_id", p.cfg.ClientID)
	if p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		values.Set("client_secret", p.cfg.ClientSecret)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !p.cfg.ClientSecretInBody && p.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	}
	return httpReq, nil
}

func (p *OAuth2Provider) IdentityRequest(ctx context.Context, accessToken string) (*http.Request, error) {
	if p == nil {
		return nil, fmt.Errorf("providers: oauth2 provider is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("providers: access token is required")
	}

	spec := p.cfg.Identity
	var body *bytes.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	} else {
		body = bytes.NewReader(nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	if strings.TrimSpace(spec.ContentType) != "" {
		httpReq.Header.Set("Content-Type", spec.ContentType)
	}
	accept := strings.TrimSpace(spec.Accept)
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	return httpReq, nil
}

func (p *OAuth2Provider) AccountID(body []byte) (string, error) {
	if p == nil {
		return "", fmt.Errorf("providers: oauth2 provider is nil")
	}
	return p.cfg.AccountID(body)
}

func (p *OAuth2Provider) ClassifyIdentity(statusCode int, body []byte) core.HealthStatus {
	if p == nil {
		return core.HealthStatusError
	}
	return p.cfg.Classify(statusCode, body)
}

// DefaultClassify is the conservative fallback: 401 means the token no
// longer authenticates (expired), 403 means the provider recognizes the
// token but refuses it (revoked), anything else proves nothing.
func DefaultClassify(statusCode int, _ []byte) core.HealthStatus {
	switch statusCode {
	case http.StatusUnauthorized:
		return core.HealthStatusExpired
	case http.StatusForbidden:
		return core.HealthStatusRevoked
	default:
		return core.HealthStatusError
	}
}

// JSONAccountID extracts a top-level string field from a JSON identity
// response.
func JSONAccountID(field string) AccountIDFunc {
	return func(body []byte) (string, error) {
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return "", fmt.Errorf("providers: decode identity response: %w", err)
		}
		value := strings.TrimSpace(fmt.Sprint(decoded[field]))
		if value == "" || value == "<nil>" {
			return "", fmt.Errorf("providers: identity response missing %q", field)
		}
		return value, nil
	}
}

var _ core.Provider = (*OAuth2Provider)(nil)
