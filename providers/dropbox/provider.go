package dropbox

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers"
)

const (
	ProviderID  = "dropbox"
	AuthURL     = "https://www.dropbox.com/oauth2/authorize"
	TokenURL    = "https://api.dropboxapi.com/oauth2/token"
	IdentityURL = "https://api.dropboxapi.com/2/users/get_current_account"
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
		AuthURL:       AuthURL,
		TokenURL:      TokenURL,
		IdentityURL:   IdentityURL,
		DefaultScopes: []string{"account_info.read", "files.content.read", "files.content.write"},
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
		ID:            ProviderID,
		AuthURL:       cfg.AuthURL,
		TokenURL:      cfg.TokenURL,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		DefaultScopes: cfg.DefaultScopes,
		UsesPKCE:      true,
		// Without token_access_type=offline Dropbox issues no refresh token.
		ExtraAuthParams: map[string]string{"token_access_type": "offline"},
		// Dropbox RPC endpoints insist on POST with a JSON content type and
		// the literal body "null" for no-argument calls. A GET, a missing
		// content type, or an empty object body are all rejected with 400
		// before authentication is even considered.
		Identity: providers.IdentitySpec{
			Method:      http.MethodPost,
			URL:         cfg.IdentityURL,
			ContentType: "application/json",
			Body:        []byte("null"),
		},
		Classify:  classify,
		AccountID: providers.JSONAccountID("account_id"),
	})
}

type apiError struct {
	Error struct {
		Tag string `json:".tag"`
	} `json:"error"`
	ErrorSummary string `json:"error_summary"`
}

// classify separates "token aged out" from "token no longer welcome".
// Dropbox answers 401 for both and distinguishes them in the error tag.
func classify(statusCode int, body []byte) core.HealthStatus {
	switch statusCode {
	case http.StatusUnauthorized:
		var decoded apiError
		if err := json.Unmarshal(body, &decoded); err == nil {
			tag := strings.TrimSpace(decoded.Error.Tag)
			if tag == "" {
				tag = strings.TrimSpace(decoded.ErrorSummary)
			}
			if strings.HasPrefix(tag, "expired_access_token") {
				return core.HealthStatusExpired
			}
		}
		return core.HealthStatusRevoked
	case http.StatusForbidden:
		return core.HealthStatusRevoked
	default:
		return core.HealthStatusError
	}
}
