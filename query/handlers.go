package query

import (
	"context"

	"github.com/goliatone/go-integrations/core"
)

// IntegrationReader is the read-only slice of the integration service that
// query handlers dispatch against.
type IntegrationReader interface {
	GetIntegration(ctx context.Context, tenantID, providerID string) (core.Integration, error)
	ListIntegrations(ctx context.Context, tenantID string) ([]core.Integration, error)
}

type AuditEventReader interface {
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]core.AuditEvent, error)
}

type GetIntegrationQuery struct {
	reader IntegrationReader
}

func NewGetIntegrationQuery(reader IntegrationReader) *GetIntegrationQuery {
	return &GetIntegrationQuery{reader: reader}
}

func (q *GetIntegrationQuery) Query(ctx context.Context, msg GetIntegrationMessage) (core.Integration, error) {
	if q == nil || q.reader == nil {
		return core.Integration{}, queryDependencyError("query: integration reader is required")
	}
	return q.reader.GetIntegration(ctx, msg.TenantID, msg.ProviderID)
}

type ListIntegrationsQuery struct {
	reader IntegrationReader
}

func NewListIntegrationsQuery(reader IntegrationReader) *ListIntegrationsQuery {
	return &ListIntegrationsQuery{reader: reader}
}

func (q *ListIntegrationsQuery) Query(
	ctx context.Context,
	msg ListIntegrationsMessage,
) ([]core.Integration, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: integration reader is required")
	}
	return q.reader.ListIntegrations(ctx, msg.TenantID)
}

type ListAuditEventsQuery struct {
	reader AuditEventReader
}

func NewListAuditEventsQuery(reader AuditEventReader) *ListAuditEventsQuery {
	return &ListAuditEventsQuery{reader: reader}
}

func (q *ListAuditEventsQuery) Query(
	ctx context.Context,
	msg ListAuditEventsMessage,
) ([]core.AuditEvent, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: audit event reader is required")
	}
	return q.reader.ListByTenant(ctx, msg.TenantID, msg.Limit)
}
