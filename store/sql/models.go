package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type integrationRecord struct {
	bun.BaseModel `bun:"table:integrations,alias:itg"`

	ID                    string         `bun:"id,pk"`
	TenantID              string         `bun:"tenant_id,notnull"`
	ProviderID            string         `bun:"provider_id,notnull"`
	EncryptedAccessToken  []byte         `bun:"encrypted_access_token,notnull"`
	EncryptedRefreshToken []byte         `bun:"encrypted_refresh_token"`
	ScopesGranted         []string       `bun:"scopes_granted,type:jsonb,notnull"`
	ExpiresAt             *time.Time     `bun:"expires_at,nullzero"`
	Status                string         `bun:"status,notnull"`
	LastHealthCheckAt     *time.Time     `bun:"last_health_check_at,nullzero"`
	LastHealthMessage     string         `bun:"last_health_message"`
	CreatedBy             string         `bun:"created_by"`
	CreatedAt             time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt             *time.Time     `bun:"deleted_at,soft_delete"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:integration_rate_limit_state,alias:irl"`

	ID         string         `bun:"id,pk"`
	ProviderID string         `bun:"provider_id,notnull"`
	TenantID   string         `bun:"tenant_id,notnull"`
	BucketKey  string         `bun:"bucket_key,notnull"`
	Limit      int            `bun:"limit_value,notnull"`
	Remaining  int            `bun:"remaining,notnull"`
	ResetAt    *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter *int           `bun:"retry_after_seconds"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditEventRecord struct {
	bun.BaseModel `bun:"table:integration_audit_events,alias:iae"`

	ID         string         `bun:"id,pk"`
	TenantID   string         `bun:"tenant_id,notnull"`
	ProviderID string         `bun:"provider_id,notnull"`
	EventType  string         `bun:"event_type,notnull"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	OccurredAt time.Time      `bun:"occurred_at,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
