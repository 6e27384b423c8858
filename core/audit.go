package core

import (
	"context"
	"strings"
)

type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditEvent) error { return nil }

var _ AuditSink = NopAuditSink{}

func (s *Service) recordAudit(ctx context.Context, event AuditEvent) {
	if s == nil || s.auditSink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	event.TenantID = strings.TrimSpace(event.TenantID)
	event.ProviderID = strings.TrimSpace(event.ProviderID)
	event.Metadata = RedactSensitiveMap(event.Metadata)
	if err := s.auditSink.Record(ctx, event); err != nil {
		s.logError(ctx, "audit record failed", map[string]any{
			"event_type":  event.EventType,
			"tenant_id":   event.TenantID,
			"provider_id": event.ProviderID,
			"error":       err.Error(),
		})
	}
}
