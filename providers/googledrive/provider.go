package googledrive

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers"
)

const (
	ProviderID  = "gdrive"
	AuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL    = "https://oauth2.googleapis.com/token"
	IdentityURL = "https://www.googleapis.com/drive/v3/about?fields=user"
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
		DefaultScopes: []string{"https://www.googleapis.com/auth/drive.file"},
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
		// Google only returns a refresh token for offline access, and only
		// on a consent-prompted grant.
		ExtraAuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		Identity: providers.IdentitySpec{
			Method: http.MethodGet,
			URL:    cfg.IdentityURL,
		},
		Classify:  classify,
		AccountID: accountID,
	})
}

type aboutPayload struct {
	User struct {
		PermissionID string `json:"permissionId"`
		EmailAddress string `json:"emailAddress"`
	} `json:"user"`
}

func accountID(body []byte) (string, error) {
	var decoded aboutPayload
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("googledrive: decode about response: %w", err)
	}
	id := strings.TrimSpace(decoded.User.PermissionID)
	if id == "" {
		return "", fmt.Errorf("googledrive: about response missing user.permissionId")
	}
	return id, nil
}

// classify: Google reports a dead token as 401 authError. A 403 is revoked
// only when the body says the grant itself is gone; quota and policy 403s
// prove nothing about the token.
func classify(statusCode int, body []byte) core.HealthStatus {
	switch statusCode {
	case http.StatusUnauthorized:
		return core.HealthStatusExpired
	case http.StatusForbidden:
		lowered := strings.ToLower(string(body))
		if strings.Contains(lowered, "revoked") ||
			strings.Contains(lowered, "deleted") ||
			strings.Contains(lowered, "accountdisabled") {
			return core.HealthStatusRevoked
		}
		return core.HealthStatusError
	default:
		return core.HealthStatusError
	}
}
