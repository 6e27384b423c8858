package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidIntegrationStatusTransition = errors.New("core: invalid integration status transition")
	ErrIntegrationNotFound                = errors.New("core: integration not found")
)

type IntegrationStatus string

const (
	IntegrationStatusPending IntegrationStatus = "pending"
	IntegrationStatusActive  IntegrationStatus = "active"
	IntegrationStatusExpired IntegrationStatus = "expired"
	IntegrationStatusRevoked IntegrationStatus = "revoked"
	IntegrationStatusError   IntegrationStatus = "error"
)

func ParseIntegrationStatus(value string) (IntegrationStatus, error) {
	status := IntegrationStatus(strings.TrimSpace(strings.ToLower(value)))
	switch status {
	case IntegrationStatusPending,
		IntegrationStatusActive,
		IntegrationStatusExpired,
		IntegrationStatusRevoked,
		IntegrationStatusError:
		return status, nil
	default:
		return "", fmt.Errorf("core: unknown integration status %q", value)
	}
}

// Integration is one tenant's grant against one provider. At most one live
// (pending or active) row exists per tenant+provider pair; a new authorization
// replaces the prior grant instead of duplicating it.
type Integration struct {
	ID                    string
	TenantID              string
	ProviderID            string
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	ScopesGranted         []string
	ExpiresAt             *time.Time
	Status                IntegrationStatus
	LastHealthCheckAt     *time.Time
	LastHealthMessage     string
	CreatedBy             string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (i *Integration) TransitionTo(status IntegrationStatus, message string, now time.Time) error {
	if i == nil {
		return nil
	}
	message = strings.TrimSpace(message)
	if i.Status == status {
		i.UpdatedAt = now
		if message != "" {
			i.LastHealthMessage = message
		}
		return nil
	}
	if !integrationTransitionAllowed(i.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidIntegrationStatusTransition, i.Status, status)
	}
	i.Status = status
	i.UpdatedAt = now
	if message != "" {
		i.LastHealthMessage = message
	}
	if status == IntegrationStatusActive {
		i.LastHealthMessage = ""
	}
	return nil
}

func integrationTransitionAllowed(current, next IntegrationStatus) bool {
	allowed := map[IntegrationStatus]map[IntegrationStatus]struct{}{
		IntegrationStatusPending: {
			IntegrationStatusActive:  {},
			IntegrationStatusError:   {},
			IntegrationStatusRevoked: {},
		},
		IntegrationStatusActive: {
			IntegrationStatusExpired: {},
			IntegrationStatusRevoked: {},
			IntegrationStatusError:   {},
		},
		IntegrationStatusExpired: {
			IntegrationStatusActive:  {},
			IntegrationStatusRevoked: {},
			IntegrationStatusError:   {},
		},
		IntegrationStatusError: {
			IntegrationStatusActive:  {},
			IntegrationStatusExpired: {},
			IntegrationStatusRevoked: {},
		},
		// revoked is terminal; the tenant has to re-authorize from scratch.
		IntegrationStatusRevoked: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// Clone returns a deep copy so callers cannot mutate stored token material.
func (i *Integration) Clone() *Integration {
	if i == nil {
		return nil
	}
	copied := *i
	copied.EncryptedAccessToken = cloneBytes(i.EncryptedAccessToken)
	copied.EncryptedRefreshToken = cloneBytes(i.EncryptedRefreshToken)
	copied.ScopesGranted = cloneStrings(i.ScopesGranted)
	copied.ExpiresAt = cloneTime(i.ExpiresAt)
	copied.LastHealthCheckAt = cloneTime(i.LastHealthCheckAt)
	return &copied
}

// HealthStatus is the outcome of a single identity probe. It is deliberately
// separate from IntegrationStatus: a probe that fails for transient reasons
// reports HealthStatusError without touching the stored status.
type HealthStatus string

const (
	HealthStatusActive  HealthStatus = "active"
	HealthStatusExpired HealthStatus = "expired"
	HealthStatusRevoked HealthStatus = "revoked"
	HealthStatusError   HealthStatus = "error"
)

type HealthReport struct {
	Status    HealthStatus
	Message   string
	AccountID string
	CheckedAt time.Time
}

// MutatesStoredStatus reports whether the probe outcome is authoritative
// enough to rewrite the integration's stored status. Only provider-issued
// auth verdicts qualify.
func (r HealthReport) MutatesStoredStatus() bool {
	switch r.Status {
	case HealthStatusExpired, HealthStatusRevoked:
		return true
	default:
		return false
	}
}

type AuditEvent struct {
	TenantID   string
	ProviderID string
	EventType  string
	OccurredAt time.Time
	Metadata   map[string]any
}

const (
	AuditEventAuthorizationStarted   = "integration.authorization_started"
	AuditEventAuthorizationCompleted = "integration.authorization_completed"
	AuditEventAuthorizationFailed    = "integration.authorization_failed"
	AuditEventTokenRefreshed         = "integration.token_refreshed"
	AuditEventTokenRevoked           = "integration.token_revoked"
	AuditEventHealthTransition       = "integration.health_transition"
)

func cloneBytes(input []byte) []byte {
	if len(input) == 0 {
		return nil
	}
	copied := make([]byte, len(input))
	copy(copied, input)
	return copied
}

func cloneStrings(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	copied := make([]string, len(input))
	copy(copied, input)
	return copied
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	copied := *input
	return &copied
}

func cloneMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(input))
	for key, value := range input {
		copied[key] = value
	}
	return copied
}
