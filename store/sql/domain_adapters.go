package sqlstore

import (
	"time"

	"github.com/goliatone/go-integrations/core"
)

func newIntegrationRecord(in core.ReplaceIntegrationInput, now time.Time) *integrationRecord {
	status := in.Status
	if status == "" {
		status = core.IntegrationStatusPending
	}
	record := &integrationRecord{
		TenantID:              in.TenantID,
		ProviderID:            in.ProviderID,
		EncryptedAccessToken:  append([]byte(nil), in.EncryptedAccessToken...),
		EncryptedRefreshToken: append([]byte(nil), in.EncryptedRefreshToken...),
		ScopesGranted:         append([]string(nil), in.ScopesGranted...),
		Status:                string(status),
		CreatedBy:             in.CreatedBy,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if record.ScopesGranted == nil {
		record.ScopesGranted = []string{}
	}
	if in.ExpiresAt != nil {
		expiresAt := in.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}
	return record
}

func (r *integrationRecord) toDomain() core.Integration {
	if r == nil {
		return core.Integration{}
	}
	integration := core.Integration{
		ID:                    r.ID,
		TenantID:              r.TenantID,
		ProviderID:            r.ProviderID,
		EncryptedAccessToken:  append([]byte(nil), r.EncryptedAccessToken...),
		EncryptedRefreshToken: append([]byte(nil), r.EncryptedRefreshToken...),
		ScopesGranted:         append([]string(nil), r.ScopesGranted...),
		Status:                core.IntegrationStatus(r.Status),
		LastHealthMessage:     r.LastHealthMessage,
		CreatedBy:             r.CreatedBy,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if r.ExpiresAt != nil {
		expiresAt := *r.ExpiresAt
		integration.ExpiresAt = &expiresAt
	}
	if r.LastHealthCheckAt != nil {
		checkedAt := *r.LastHealthCheckAt
		integration.LastHealthCheckAt = &checkedAt
	}
	return integration
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
