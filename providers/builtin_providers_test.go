package providers_test

import (
	"context"
	"io"
	"testing"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/dropbox"
	"github.com/goliatone/go-integrations/providers/googledrive"
	"github.com/goliatone/go-integrations/providers/onedrive"
)

type providerFactory struct {
	name    string
	factory func() (core.Provider, error)
}

func builtinFactories() []providerFactory {
	return []providerFactory{
		{
			name: "dropbox",
			factory: func() (core.Provider, error) {
				return dropbox.New(dropbox.Config{ClientID: "client", ClientSecret: "secret"})
			},
		},
		{
			name: "googledrive",
			factory: func() (core.Provider, error) {
				return googledrive.New(googledrive.Config{ClientID: "client", ClientSecret: "secret"})
			},
		},
		{
			name: "onedrive",
			factory: func() (core.Provider, error) {
				return onedrive.New(onedrive.Config{ClientID: "client", ClientSecret: "secret"})
			},
		},
	}
}

func TestBuiltInProviders_ExposeOAuth2AuthCode(t *testing.T) {
	for _, item := range builtinFactories() {
		t.Run(item.name, func(t *testing.T) {
			provider, err := item.factory()
			if err != nil {
				t.Fatalf("new provider: %v", err)
			}
			if provider.ID() == "" {
				t.Fatalf("expected provider id")
			}
			if provider.AuthKind() != "oauth2_auth_code" {
				t.Fatalf("expected oauth2_auth_code, got %q", provider.AuthKind())
			}
			if len(provider.Scopes()) == 0 {
				t.Fatalf("expected default scopes")
			}

			redirect, err := provider.BeginAuth(context.Background(), core.AuthRequest{
				RedirectURI: "https://app.example/callback",
				State:       "state_1",
			})
			if err != nil {
				t.Fatalf("begin auth: %v", err)
			}
			if redirect.URL == "" {
				t.Fatalf("expected auth redirect url")
			}

			identityReq, err := provider.IdentityRequest(context.Background(), "token_1")
			if err != nil {
				t.Fatalf("identity request: %v", err)
			}
			if got := identityReq.Header.Get("Authorization"); got != "Bearer token_1" {
				t.Fatalf("expected bearer auth header, got %q", got)
			}
		})
	}
}

// Dropbox rejects identity calls that are not POST application/json with a
// literal null body, so the request shape is part of the adapter contract.
func TestDropbox_IdentityRequestContract(t *testing.T) {
	provider, err := dropbox.New(dropbox.Config{ClientID: "client", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	httpReq, err := provider.IdentityRequest(context.Background(), "token_1")
	if err != nil {
		t.Fatalf("identity request: %v", err)
	}
	if httpReq.Method != "POST" {
		t.Fatalf("expected POST identity request, got %q", httpReq.Method)
	}
	if httpReq.URL.String() != "https://api.dropboxapi.com/2/users/get_current_account" {
		t.Fatalf("unexpected identity url %q", httpReq.URL.String())
	}
	if got := httpReq.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json content type, got %q", got)
	}
	body, err := io.ReadAll(httpReq.Body)
	if err != nil {
		t.Fatalf("read identity body: %v", err)
	}
	if string(body) != "null" {
		t.Fatalf("expected literal null body, got %q", string(body))
	}
}

func TestDropbox_ClassifyIdentity(t *testing.T) {
	provider, err := dropbox.New(dropbox.Config{ClientID: "client", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	expired := []byte(`{"error_summary": "expired_access_token/", "error": {".tag": "expired_access_token"}}`)
	if got := provider.ClassifyIdentity(401, expired); got != core.HealthStatusExpired {
		t.Fatalf("expected expired for expired_access_token, got %q", got)
	}

	invalid := []byte(`{"error_summary": "invalid_access_token/", "error": {".tag": "invalid_access_token"}}`)
	if got := provider.ClassifyIdentity(401, invalid); got != core.HealthStatusRevoked {
		t.Fatalf("expected revoked for invalid_access_token, got %q", got)
	}

	if got := provider.ClassifyIdentity(500, nil); got != core.HealthStatusError {
		t.Fatalf("expected error for 500, got %q", got)
	}
	if got := provider.ClassifyIdentity(429, nil); got != core.HealthStatusError {
		t.Fatalf("expected error for 429, got %q", got)
	}
}

func TestDropbox_AccountID(t *testing.T) {
	provider, err := dropbox.New(dropbox.Config{ClientID: "client", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	id, err := provider.AccountID([]byte(`{"account_id": "dbid:AAAA", "name": {"display_name": "Example"}}`))
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	if id != "dbid:AAAA" {
		t.Fatalf("expected dbid:AAAA, got %q", id)
	}
}

func TestGoogleDrive_IdentityRequestContract(t *testing.T) {
	provider, err := googledrive.New(googledrive.Config{ClientID: "client", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	httpReq, err := provider.IdentityRequest(context.Background(), "token_1")
	if err != nil {
		t.Fatalf("identity request: %v", err)
	}
	if httpReq.Method != "GET" {
		t.Fatalf("expected GET identity request, got %q", httpReq.Method)
	}
	if httpReq.URL.Query().Get("fields") != "user" {
		t.Fatalf("expected fields=user query, got %q", httpReq.URL.RawQuery)
	}
}

func TestGoogleDrive_AccountIDReadsPermissionID(t *testing.T) {
	provider, err := googledrive.New(googledrive.Config{ClientID: "client", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	id, err := provider.AccountID([]byte(`{"user": {"permissionId": "perm_1", "emailAddress": "a@example.com"}}`))
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	if id != "perm_1" {
		t.Fatalf("expected perm_1, got %q", id)
	}

	if _, err := provider.AccountID([]byte(`{"user": {}}`)); err == nil {
		t.Fatalf("expected missing permissionId error")
	}
}

func TestGoogleDrive_ClassifyIdentity(t *testing.T) {
	provider, err := googledrive.New(googledrive.Config{ClientID: "client", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	if got := provider.ClassifyIdentity(401, []byte(`{"error": {"status": "UNAUTHENTICATED"}}`)); got != core.HealthStatusExpired {
		t.Fatalf("expected expired for 401, got %q", got)
	}
	revoked := []byte(`{"error": {"message": "Account has been deleted or access revoked"}}`)
	if got := provider.ClassifyIdentity(403, revoked); got != core.HealthStatusRevoked {
		t.Fatalf("expected revoked for revocation 403, got %q", got)
	}
	quota := []byte(`{"error": {"message": "Rate limit exceeded"}}`)
	if got := provider.ClassifyIdentity(403, quota); got != core.HealthStatusError {
		t.Fatalf("expected error for quota 403, got %q", got)
	}
	if got := provider.ClassifyIdentity(503, nil); got != core.HealthStatusError {
		t.Fatalf("expected error for 503, got %q", got)
	}
}

func TestOneDrive_ClassifyIdentity(t *testing.T) {
	provider, err := onedrive.New(onedrive.Config{ClientID: "client", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	expired := []byte(`{"error": {"code": "InvalidAuthenticationToken", "message": "Access token has expired."}}`)
	if got := provider.ClassifyIdentity(401, expired); got != core.HealthStatusExpired {
		t.Fatalf("expected expired for InvalidAuthenticationToken, got %q", got)
	}
	if got := provider.ClassifyIdentity(403, nil); got != core.HealthStatusRevoked {
		t.Fatalf("expected revoked for 403, got %q", got)
	}
	if got := provider.ClassifyIdentity(500, nil); got != core.HealthStatusError {
		t.Fatalf("expected error for 500, got %q", got)
	}
}
