package query

import "strings"

const (
	TypeGetIntegration   = "integrations.query.integration.get"
	TypeListIntegrations = "integrations.query.integration.list"
	TypeListAuditEvents  = "integrations.query.audit.list"
)

type GetIntegrationMessage struct {
	TenantID   string
	ProviderID string
}

func (GetIntegrationMessage) Type() string { return TypeGetIntegration }

func (m GetIntegrationMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return queryValidationError("provider_id", "provider id is required")
	}
	return nil
}

type ListIntegrationsMessage struct {
	TenantID string
}

func (ListIntegrationsMessage) Type() string { return TypeListIntegrations }

func (m ListIntegrationsMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	return nil
}

type ListAuditEventsMessage struct {
	TenantID string
	// Limit caps the page size; zero falls back to the store default.
	Limit int
}

func (ListAuditEventsMessage) Type() string { return TypeListAuditEvents }

func (m ListAuditEventsMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}
