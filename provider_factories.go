package integrations

import (
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/dropbox"
	"github.com/goliatone/go-integrations/providers/googledrive"
	"github.com/goliatone/go-integrations/providers/onedrive"
)

func DropboxProvider(cfg dropbox.Config) (core.Provider, error) {
	return dropbox.New(cfg)
}

func GoogleDriveProvider(cfg googledrive.Config) (core.Provider, error) {
	return googledrive.New(cfg)
}

func OneDriveProvider(cfg onedrive.Config) (core.Provider, error) {
	return onedrive.New(cfg)
}

// RegisterBuiltInProviders wires every built-in adapter into the registry.
// Providers with empty client credentials are skipped so hosts can enable a
// subset.
func RegisterBuiltInProviders(registry core.Registry, cfgs BuiltInProviderConfigs) error {
	if cfgs.Dropbox != nil {
		provider, err := dropbox.New(*cfgs.Dropbox)
		if err != nil {
			return err
		}
		if err := registry.Register(provider); err != nil {
			return err
		}
	}
	if cfgs.GoogleDrive != nil {
		provider, err := googledrive.New(*cfgs.GoogleDrive)
		if err != nil {
			return err
		}
		if err := registry.Register(provider); err != nil {
			return err
		}
	}
	if cfgs.OneDrive != nil {
		provider, err := onedrive.New(*cfgs.OneDrive)
		if err != nil {
			return err
		}
		if err := registry.Register(provider); err != nil {
			return err
		}
	}
	return nil
}

type BuiltInProviderConfigs struct {
	Dropbox     *dropbox.Config
	GoogleDrive *googledrive.Config
	OneDrive    *onedrive.Config
}
