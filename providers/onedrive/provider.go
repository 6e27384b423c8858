package onedrive

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers"
)

const (
	ProviderID  = "onedrive"
	AuthURL     = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	TokenURL    = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	IdentityURL = "https://graph.microsoft.com/v1.0/me"
)

type Config struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	IdentityURL   string
	DefaultScopes []string
}

func DefaultConfig() Config {
	return Config{
		AuthURL:     AuthURL,
		TokenURL:    TokenURL,
		IdentityURL: IdentityURL,
		// offline_access is what makes Microsoft issue a refresh token.
		DefaultScopes: []string{"offline_access", "Files.ReadWrite", "User.Read"},
	}
}

func New(cfg Config) (core.Provider, error) {
	defaults := DefaultConfig()
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = defaults.IdentityURL
	}
	if len(cfg.DefaultScopes) == 0 {
		cfg.DefaultScopes = defaults.DefaultScopes
	}
	return providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:                 ProviderID,
		AuthURL:            cfg.AuthURL,
		TokenURL:           cfg.TokenURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		DefaultScopes:      cfg.DefaultScopes,
		UsesPKCE:           true,
		Identity: providers.IdentitySpec{
			Method: http.MethodGet,
			URL:    cfg.IdentityURL,
		},
		Classify:  classify,
		AccountID: providers.JSONAccountID("id"),
	})
}

type graphError struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

// classify: Graph answers 401 InvalidAuthenticationToken for an expired
// token and 403 when the app's consent has been withdrawn.
func classify(statusCode int, body []byte) core.HealthStatus {
	switch statusCode {
	case http.StatusUnauthorized:
		var decoded graphError
		if err := json.Unmarshal(body, &decoded); err == nil {
			code := strings.TrimSpace(decoded.Error.Code)
			if code != "" && !strings.EqualFold(code, "InvalidAuthenticationToken") &&
				!strings.EqualFold(code, "TokenExpired") {
				return core.HealthStatusRevoked
			}
		}
		return core.HealthStatusExpired
	case http.StatusForbidden:
		return core.HealthStatusRevoked
	default:
		return core.HealthStatusError
	}
}
