package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// AuditEventStore persists lifecycle audit events. Metadata is redacted
// before it touches the database; token material never lands in audit rows.
type AuditEventStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEventRecord]
}

func NewAuditEventStore(db *bun.DB) (*AuditEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEventRecord](db, auditEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit event repository wiring: %w", err)
		}
	}
	return &AuditEventStore{db: db, repo: repo}, nil
}

func (s *AuditEventStore) Record(ctx context.Context, event core.AuditEvent) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit event store is not configured")
	}
	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		return fmt.Errorf("sqlstore: audit event type is required")
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	record := &auditEventRecord{
		TenantID:   strings.TrimSpace(event.TenantID),
		ProviderID: strings.TrimSpace(event.ProviderID),
		EventType:  eventType,
		Metadata:   core.RedactSensitiveMap(event.Metadata),
		OccurredAt: occurredAt.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *AuditEventStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]core.AuditEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit event store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.OrderBy("occurred_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditEvent, 0, len(records))
	for _, record := range records {
		out = append(out, core.AuditEvent{
			TenantID:   record.TenantID,
			ProviderID: record.ProviderID,
			EventType:  record.EventType,
			OccurredAt: record.OccurredAt,
			Metadata:   copyAnyMap(record.Metadata),
		})
	}
	return out, nil
}

var _ core.AuditSink = (*AuditEventStore)(nil)
