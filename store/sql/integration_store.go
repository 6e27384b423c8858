package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type IntegrationStore struct {
	db   *bun.DB
	repo repository.Repository[*integrationRecord]
}

// Replace supersedes any live grant for the tenant+provider pair and inserts
// the new one inside a single transaction. Superseded rows are soft-deleted
// so the one-live-row-per-pair invariant holds without a partial unique index
// fight on every re-authorization.
func (s *IntegrationStore) Replace(ctx context.Context, in core.ReplaceIntegrationInput) (core.Integration, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.ProviderID = strings.TrimSpace(strings.ToLower(in.ProviderID))
	if in.TenantID == "" {
		return core.Integration{}, fmt.Errorf("sqlstore: tenant id is required")
	}
	if in.ProviderID == "" {
		return core.Integration{}, fmt.Errorf("sqlstore: provider id is required")
	}
	if len(in.EncryptedAccessToken) == 0 {
		return core.Integration{}, fmt.Errorf("sqlstore: encrypted access token is required")
	}

	now := time.Now().UTC()
	var created core.Integration
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, supersedeErr := tx.NewUpdate().
			Model((*integrationRecord)(nil)).
			Set("deleted_at = ?", now).
			Set("last_health_message = ?", "superseded by new authorization").
			Set("updated_at = ?", now).
			Where("tenant_id = ?", in.TenantID).
			Where("provider_id = ?", in.ProviderID).
			Where("deleted_at IS NULL").
			Exec(ctx)
		if supersedeErr != nil {
			return supersedeErr
		}

		record := newIntegrationRecord(in, now)
		inserted, createErr := s.repo.CreateTx(ctx, tx, record)
		if createErr != nil {
			return createErr
		}
		created = inserted.toDomain()
		return nil
	})
	if err != nil {
		return core.Integration{}, err
	}
	return created, nil
}

func (s *IntegrationStore) Get(ctx context.Context, id string) (core.Integration, error) {
	if s == nil || s.repo == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Integration{}, core.ErrIntegrationNotFound
		}
		return core.Integration{}, err
	}
	if record.DeletedAt != nil {
		return core.Integration{}, core.ErrIntegrationNotFound
	}
	return record.toDomain(), nil
}

func (s *IntegrationStore) GetByTenantProvider(ctx context.Context, tenantID, providerID string) (core.Integration, error) {
	if s == nil || s.repo == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("provider_id", "=", strings.TrimSpace(strings.ToLower(providerID))),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Integration{}, err
	}
	if len(records) == 0 {
		return core.Integration{}, core.ErrIntegrationNotFound
	}
	return records[0].toDomain(), nil
}

func (s *IntegrationStore) ListByTenant(ctx context.Context, tenantID string) ([]core.Integration, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: integration store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("provider_id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Integration, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *IntegrationStore) UpdateStatus(ctx context.Context, id string, status core.IntegrationStatus, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: integration store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: integration id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*integrationRecord)(nil)).
		Set("status = ?", string(status)).
		Set("last_health_message = ?", strings.TrimSpace(message)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRow(result)
}

func (s *IntegrationStore) UpdateTokens(ctx context.Context, id string, accessToken, refreshToken []byte, expiresAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: integration store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: integration id is required")
	}
	if len(accessToken) == 0 {
		return fmt.Errorf("sqlstore: encrypted access token is required")
	}

	query := s.db.NewUpdate().
		Model((*integrationRecord)(nil)).
		Set("encrypted_access_token = ?", accessToken).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Where("deleted_at IS NULL")
	// A refresh that did not rotate the refresh token keeps the stored one.
	if len(refreshToken) > 0 {
		query = query.Set("encrypted_refresh_token = ?", refreshToken)
	}
	if expiresAt != nil {
		query = query.Set("expires_at = ?", expiresAt.UTC())
	} else {
		query = query.Set("expires_at = NULL")
	}

	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRow(result)
}

func (s *IntegrationStore) RecordHealth(ctx context.Context, id string, report core.HealthReport, mutateStatus bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: integration store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: integration id is required")
	}
	checkedAt := report.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}

	query := s.db.NewUpdate().
		Model((*integrationRecord)(nil)).
		Set("last_health_check_at = ?", checkedAt.UTC()).
		Set("last_health_message = ?", strings.TrimSpace(report.Message)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Where("deleted_at IS NULL")
	if mutateStatus {
		query = query.Set("status = ?", string(report.Status))
	}

	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRow(result)
}

func requireAffectedRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return core.ErrIntegrationNotFound
	}
	return nil
}

var _ core.IntegrationStore = (*IntegrationStore)(nil)
