package integrations

import (
	"testing"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/dropbox"
	"github.com/goliatone/go-integrations/providers/googledrive"
	"github.com/goliatone/go-integrations/providers/onedrive"
)

func TestBuiltInProviderFactories(t *testing.T) {
	cases := []struct {
		name string
		id   string
		fn   func() (string, error)
	}{
		{
			name: "dropbox",
			id:   dropbox.ProviderID,
			fn: func() (string, error) {
				provider, err := DropboxProvider(dropbox.Config{ClientID: "client", ClientSecret: "secret"})
				if err != nil {
					return "", err
				}
				return provider.ID(), nil
			},
		},
		{
			name: "googledrive",
			id:   googledrive.ProviderID,
			fn: func() (string, error) {
				provider, err := GoogleDriveProvider(googledrive.Config{ClientID: "client", ClientSecret: "secret"})
				if err != nil {
					return "", err
				}
				return provider.ID(), nil
			},
		},
		{
			name: "onedrive",
			id:   onedrive.ProviderID,
			fn: func() (string, error) {
				provider, err := OneDriveProvider(onedrive.Config{ClientID: "client", ClientSecret: "secret"})
				if err != nil {
					return "", err
				}
				return provider.ID(), nil
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := tc.fn()
			if err != nil {
				t.Fatalf("build provider: %v", err)
			}
			if id != tc.id {
				t.Fatalf("expected provider id %q, got %q", tc.id, id)
			}
		})
	}
}

func TestRegisterBuiltInProviders(t *testing.T) {
	registry := core.NewProviderRegistry()
	err := RegisterBuiltInProviders(registry, BuiltInProviderConfigs{
		Dropbox:     &dropbox.Config{ClientID: "client", ClientSecret: "secret"},
		GoogleDrive: &googledrive.Config{ClientID: "client", ClientSecret: "secret"},
	})
	if err != nil {
		t.Fatalf("register built-in providers: %v", err)
	}

	if _, ok := registry.Get(dropbox.ProviderID); !ok {
		t.Fatalf("expected dropbox registration")
	}
	if _, ok := registry.Get(googledrive.ProviderID); !ok {
		t.Fatalf("expected googledrive registration")
	}
	if _, ok := registry.Get(onedrive.ProviderID); ok {
		t.Fatalf("expected onedrive to be skipped without config")
	}
}
