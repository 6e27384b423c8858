package core

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// plainTokenCipher marks token material instead of encrypting it so tests
// can assert what the service stored without key handling.
type plainTokenCipher struct{}

func (plainTokenCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is required")
	}
	return append([]byte("enc:"), plaintext...), nil
}

func (plainTokenCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, []byte("enc:")) {
		return nil, fmt.Errorf("unexpected envelope")
	}
	return bytes.TrimPrefix(ciphertext, []byte("enc:")), nil
}

type memoryIntegrationStore struct {
	mu   sync.Mutex
	seq  int
	byID map[string]Integration
	// byKey maps tenant:provider onto the live integration id.
	byKey map[string]string
}

func newMemoryIntegrationStore() *memoryIntegrationStore {
	return &memoryIntegrationStore{
		byID:  map[string]Integration{},
		byKey: map[string]string{},
	}
}

func storeKey(tenantID, providerID string) string {
	return strings.TrimSpace(tenantID) + ":" + strings.TrimSpace(providerID)
}

func (s *memoryIntegrationStore) Replace(_ context.Context, in ReplaceIntegrationInput) (Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(in.TenantID, in.ProviderID)
	if priorID, ok := s.byKey[key]; ok {
		delete(s.byID, priorID)
	}

	s.seq++
	now := time.Now().UTC()
	integration := Integration{
		ID:                    fmt.Sprintf("itg_%d", s.seq),
		TenantID:              strings.TrimSpace(in.TenantID),
		ProviderID:            strings.TrimSpace(in.ProviderID),
		EncryptedAccessToken:  append([]byte(nil), in.EncryptedAccessToken...),
		EncryptedRefreshToken: append([]byte(nil), in.EncryptedRefreshToken...),
		ScopesGranted:         append([]string(nil), in.ScopesGranted...),
		ExpiresAt:             in.ExpiresAt,
		Status:                in.Status,
		CreatedBy:             strings.TrimSpace(in.CreatedBy),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	s.byID[integration.ID] = integration
	s.byKey[key] = integration.ID
	return integration, nil
}

func (s *memoryIntegrationStore) Get(_ context.Context, id string) (Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	integration, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Integration{}, ErrIntegrationNotFound
	}
	return integration, nil
}

func (s *memoryIntegrationStore) GetByTenantProvider(_ context.Context, tenantID, providerID string) (Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[storeKey(tenantID, providerID)]
	if !ok {
		return Integration{}, ErrIntegrationNotFound
	}
	return s.byID[id], nil
}

func (s *memoryIntegrationStore) ListByTenant(_ context.Context, tenantID string) ([]Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenantID = strings.TrimSpace(tenantID)
	out := []Integration{}
	for _, integration := range s.byID {
		if integration.TenantID == tenantID {
			out = append(out, integration)
		}
	}
	return out, nil
}

func (s *memoryIntegrationStore) UpdateStatus(_ context.Context, id string, status IntegrationStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	integration, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return ErrIntegrationNotFound
	}
	integration.Status = status
	integration.LastHealthMessage = strings.TrimSpace(message)
	integration.UpdatedAt = time.Now().UTC()
	s.byID[integration.ID] = integration
	return nil
}

func (s *memoryIntegrationStore) UpdateTokens(_ context.Context, id string, accessToken, refreshToken []byte, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	integration, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return ErrIntegrationNotFound
	}
	integration.EncryptedAccessToken = append([]byte(nil), accessToken...)
	integration.EncryptedRefreshToken = append([]byte(nil), refreshToken...)
	integration.ExpiresAt = expiresAt
	integration.UpdatedAt = time.Now().UTC()
	s.byID[integration.ID] = integration
	return nil
}

func (s *memoryIntegrationStore) RecordHealth(_ context.Context, id string, report HealthReport, mutateStatus bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	integration, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return ErrIntegrationNotFound
	}
	checkedAt := report.CheckedAt
	integration.LastHealthCheckAt = &checkedAt
	integration.LastHealthMessage = report.Message
	if mutateStatus {
		integration.Status = IntegrationStatus(report.Status)
	}
	integration.UpdatedAt = time.Now().UTC()
	s.byID[integration.ID] = integration
	return nil
}

var _ IntegrationStore = (*memoryIntegrationStore)(nil)

type capturingAuditSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *capturingAuditSink) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingAuditSink) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

func (s *capturingAuditSink) EventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.EventType)
	}
	return out
}

func newTestService(t *testing.T, store IntegrationStore, provider Provider, opts ...Option) *Service {
	t.Helper()

	registry := NewProviderRegistry()
	if provider != nil {
		if err := registry.Register(provider); err != nil {
			t.Fatalf("register provider: %v", err)
		}
	}
	stateTokens, err := NewStateTokenManager([]byte("service-test-secret"))
	if err != nil {
		t.Fatalf("new state token manager: %v", err)
	}

	base := []Option{
		WithTokenCipher(plainTokenCipher{}),
		WithStateTokenManager(stateTokens),
		WithRegistry(registry),
		WithIntegrationStore(store),
		WithBackoffScheduler(zeroBackoff{}),
	}
	service, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// seedIntegration persists an active grant the way a completed callback
// would, with plainTokenCipher envelopes.
func seedIntegration(t *testing.T, store IntegrationStore, tenantID, providerID string, expiresAt *time.Time) Integration {
	t.Helper()
	integration, err := store.Replace(context.Background(), ReplaceIntegrationInput{
		TenantID:              tenantID,
		ProviderID:            providerID,
		EncryptedAccessToken:  []byte("enc:access-old"),
		EncryptedRefreshToken: []byte("enc:refresh-old"),
		ScopesGranted:         []string{"files.read"},
		ExpiresAt:             expiresAt,
		Status:                IntegrationStatusActive,
		CreatedBy:             "user-1",
	})
	if err != nil {
		t.Fatalf("seed integration: %v", err)
	}
	return integration
}

func timePtr(value time.Time) *time.Time { return &value }
