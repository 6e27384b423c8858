package core

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`
	// StateTokenTTL bounds how long an authorization redirect stays valid.
	StateTokenTTL time.Duration `koanf:"state_token_ttl" mapstructure:"state_token_ttl"`
	// RefreshLeadWindow is how far before expiry EnsureFresh refreshes.
	RefreshLeadWindow time.Duration `koanf:"refresh_lead_window" mapstructure:"refresh_lead_window"`
	RefreshLockTTL    time.Duration `koanf:"refresh_lock_ttl" mapstructure:"refresh_lock_ttl"`
	ExchangeTimeout   time.Duration `koanf:"exchange_timeout" mapstructure:"exchange_timeout"`
	HealthTimeout     time.Duration `koanf:"health_timeout" mapstructure:"health_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:       "integrations",
		StateTokenTTL:     10 * time.Minute,
		RefreshLeadWindow: 5 * time.Minute,
		RefreshLockTTL:    30 * time.Second,
		ExchangeTimeout:   10 * time.Second,
		HealthTimeout:     10 * time.Second,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.StateTokenTTL < 0 {
		return fmt.Errorf("core: state_token_ttl must not be negative")
	}
	if c.RefreshLeadWindow < 0 {
		return fmt.Errorf("core: refresh_lead_window must not be negative")
	}
	return nil
}

// normalized fills zero durations with defaults so option wiring can pass a
// partially populated Config.
func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = defaults.ServiceName
	}
	if c.StateTokenTTL == 0 {
		c.StateTokenTTL = defaults.StateTokenTTL
	}
	if c.RefreshLeadWindow == 0 {
		c.RefreshLeadWindow = defaults.RefreshLeadWindow
	}
	if c.RefreshLockTTL == 0 {
		c.RefreshLockTTL = defaults.RefreshLockTTL
	}
	if c.ExchangeTimeout == 0 {
		c.ExchangeTimeout = defaults.ExchangeTimeout
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = defaults.HealthTimeout
	}
	return c
}
