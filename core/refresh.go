package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRefreshMaxAttempts    = 3
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Second
	defaultRefreshLockTTL        = 30 * time.Second
	DefaultRefreshLeadWindow     = 5 * time.Minute
)

// ErrRefreshLockHeld reports that another caller holds the per-integration
// refresh lock. Locker implementations should wrap it so callers can use
// errors.Is instead of matching message text.
var ErrRefreshLockHeld = errors.New("core: refresh lock already held")

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRefreshMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// TokenFreshness captures what EnsureFresh needs to decide about a stored
// grant without decrypting anything.
type TokenFreshness struct {
	ExpiresAt       *time.Time
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

func ResolveTokenFreshness(now time.Time, integration Integration, leadWindow time.Duration) TokenFreshness {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if leadWindow <= 0 {
		leadWindow = DefaultRefreshLeadWindow
	}

	state := TokenFreshness{
		HasRefreshToken: len(integration.EncryptedRefreshToken) > 0,
	}
	if integration.ExpiresAt == nil {
		return state
	}
	expiresAt := integration.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(leadWindow))
	return state
}

func ShouldRefreshToken(state TokenFreshness) bool {
	if !state.HasRefreshToken {
		return false
	}
	return state.IsExpired || state.IsExpiringSoon
}

type RefreshRequest struct {
	TenantID   string
	ProviderID string
	// Force refreshes even when the access token is still comfortably
	// inside its lifetime.
	Force bool
}

type RefreshRunOptions struct {
	MaxAttempts int
	LockTTL     time.Duration
}

type RefreshRunResult struct {
	Attempts int
	Revoked  bool
}

// Refresh rotates the stored tokens for one integration. The per-integration
// lock guarantees at most one in-flight refresh; a concurrent caller gets a
// refresh-lock error and should re-read the store instead of racing.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (Integration, error) {
	if s == nil {
		return Integration{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()
	fields := map[string]any{
		"tenant_id":   strings.TrimSpace(req.TenantID),
		"provider_id": strings.TrimSpace(req.ProviderID),
	}

	integration, err := s.refresh(ctx, req)
	s.observeOperation(ctx, startedAt, "refresh", err, fields)
	if err != nil {
		return Integration{}, s.mapError(err)
	}
	return integration, nil
}

func (s *Service) refresh(ctx context.Context, req RefreshRequest) (Integration, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	providerID := strings.TrimSpace(req.ProviderID)
	if tenantID == "" {
		return Integration{}, fmt.Errorf("core: tenant id is required")
	}
	if providerID == "" {
		return Integration{}, fmt.Errorf("core: provider id is required")
	}
	if s.store == nil {
		return Integration{}, fmt.Errorf("core: integration store is not configured")
	}

	provider, ok := s.registry.Get(providerID)
	if !ok {
		return Integration{}, fmt.Errorf("core: provider not registered: %s", providerID)
	}

	integration, err := s.store.GetByTenantProvider(ctx, tenantID, providerID)
	if err != nil {
		return Integration{}, err
	}
	if integration.Status == IntegrationStatusRevoked {
		return Integration{}, fmt.Errorf("core: integration %s is revoked; re-authorization required", integration.ID)
	}
	if len(integration.EncryptedRefreshToken) == 0 {
		return Integration{}, fmt.Errorf("core: integration %s has no refresh token; re-authorization required", integration.ID)
	}

	unlock := func() {}
	if s.locker != nil {
		// Same lock key the callback's persisting phase uses, so a refresh
		// can never interleave with a grant replacement.
		handle, lockErr := s.locker.Acquire(ctx, refreshLockKey(tenantID, providerID), s.config.RefreshLockTTL)
		if lockErr != nil {
			return Integration{}, lockErr
		}
		unlock = func() { _ = handle.Unlock(ctx) }
	}
	defer unlock()

	// Re-read under the lock: a concurrent refresh may have finished
	// between the freshness check and lock acquisition.
	integration, err = s.store.GetByTenantProvider(ctx, tenantID, providerID)
	if err != nil {
		return Integration{}, err
	}
	if !req.Force {
		state := ResolveTokenFreshness(s.now(), integration, s.config.RefreshLeadWindow)
		if !state.IsExpired && !state.IsExpiringSoon {
			return integration, nil
		}
	}

	refreshToken, err := s.cipher.Decrypt(ctx, integration.EncryptedRefreshToken)
	if err != nil {
		return Integration{}, fmt.Errorf("core: decrypt refresh token: %w", err)
	}

	grant, err := s.exchange.RefreshGrant(ctx, provider, string(refreshToken))
	if err != nil {
		var exchErr *ExchangeError
		if errors.As(err, &exchErr) && exchErr.Kind == ExchangeErrInvalidGrant {
			revokeErr := s.store.UpdateStatus(ctx, integration.ID, IntegrationStatusRevoked, "refresh rejected: invalid_grant")
			if revokeErr == nil {
				s.recordAudit(ctx, AuditEvent{
					TenantID:   tenantID,
					ProviderID: providerID,
					EventType:  AuditEventTokenRevoked,
					Metadata: map[string]any{
						"integration_id": integration.ID,
						"reason":         "invalid_grant",
					},
				})
			}
		}
		return Integration{}, err
	}

	encryptedAccess, err := s.cipher.Encrypt(ctx, []byte(grant.AccessToken))
	if err != nil {
		return Integration{}, fmt.Errorf("core: encrypt access token: %w", err)
	}
	// Providers that rotate refresh tokens return a new one; those that do
	// not expect the old one to stay in service.
	nextRefresh := integration.EncryptedRefreshToken
	if strings.TrimSpace(grant.RefreshToken) != "" {
		nextRefresh, err = s.cipher.Encrypt(ctx, []byte(grant.RefreshToken))
		if err != nil {
			return Integration{}, fmt.Errorf("core: encrypt refresh token: %w", err)
		}
	}

	expiresAt := resolveExpiry(s.now(), grant.ExpiresIn)
	if err := s.store.UpdateTokens(ctx, integration.ID, encryptedAccess, nextRefresh, expiresAt); err != nil {
		return Integration{}, err
	}
	if integration.Status != IntegrationStatusActive {
		if err := s.store.UpdateStatus(ctx, integration.ID, IntegrationStatusActive, ""); err != nil {
			return Integration{}, err
		}
	}

	s.recordAudit(ctx, AuditEvent{
		TenantID:   tenantID,
		ProviderID: providerID,
		EventType:  AuditEventTokenRefreshed,
		Metadata: map[string]any{
			"integration_id": integration.ID,
		},
	})

	return s.store.GetByTenantProvider(ctx, tenantID, providerID)
}

// EnsureFresh is the lazy refresh entry point callers hit before using a
// stored access token. A caller that loses the lock race waits briefly and
// re-reads the winner's persisted result instead of refreshing again.
func (s *Service) EnsureFresh(ctx context.Context, tenantID, providerID string) (Integration, error) {
	if s == nil {
		return Integration{}, fmt.Errorf("core: service is nil")
	}
	tenantID = strings.TrimSpace(tenantID)
	providerID = strings.TrimSpace(providerID)
	if tenantID == "" || providerID == "" {
		return Integration{}, s.mapError(fmt.Errorf("core: tenant id and provider id are required"))
	}
	if s.store == nil {
		return Integration{}, s.mapError(fmt.Errorf("core: integration store is not configured"))
	}

	integration, err := s.store.GetByTenantProvider(ctx, tenantID, providerID)
	if err != nil {
		return Integration{}, s.mapError(err)
	}
	state := ResolveTokenFreshness(s.now(), integration, s.config.RefreshLeadWindow)
	if !ShouldRefreshToken(state) {
		return integration, nil
	}

	refreshed, err := s.Refresh(ctx, RefreshRequest{TenantID: tenantID, ProviderID: providerID})
	if err == nil {
		return refreshed, nil
	}
	if !isRefreshLockHeld(err) {
		return Integration{}, err
	}

	// Lost the race. Poll for the winner's result until the lock TTL runs
	// out; the winner persists before unlocking.
	deadline := s.now().Add(s.config.RefreshLockTTL)
	scheduler := s.backoff
	if scheduler == nil {
		scheduler = ExponentialBackoffScheduler{Initial: 100 * time.Millisecond, Max: time.Second}
	}
	for attempt := 1; s.now().Before(deadline); attempt++ {
		if waitErr := waitWithContext(ctx, scheduler.NextDelay(attempt)); waitErr != nil {
			return Integration{}, s.mapError(waitErr)
		}
		integration, readErr := s.store.GetByTenantProvider(ctx, tenantID, providerID)
		if readErr != nil {
			return Integration{}, s.mapError(readErr)
		}
		current := ResolveTokenFreshness(s.now(), integration, s.config.RefreshLeadWindow)
		if !ShouldRefreshToken(current) || integration.Status == IntegrationStatusRevoked {
			return integration, nil
		}
	}
	return Integration{}, err
}

// RunRefreshWithRetry is the periodic-sweep entry point: it retries
// transient failures with backoff, but an invalid_grant outcome is final
// and marks the integration revoked without another attempt.
func (s *Service) RunRefreshWithRetry(ctx context.Context, req RefreshRequest, opts RefreshRunOptions) (RefreshRunResult, error) {
	if s == nil {
		return RefreshRunResult{}, fmt.Errorf("core: service is nil")
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRefreshMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err := s.Refresh(ctx, RefreshRequest{
			TenantID:   req.TenantID,
			ProviderID: req.ProviderID,
			Force:      req.Force,
		})
		if err == nil {
			return RefreshRunResult{Attempts: attempt}, nil
		}
		lastErr = err

		if isUnrecoverableRefreshError(err) {
			return RefreshRunResult{Attempts: attempt, Revoked: true}, s.mapError(err)
		}
		if attempt == maxAttempts {
			break
		}
		delay := defaultRefreshInitialBackoff
		if s.backoff != nil {
			delay = s.backoff.NextDelay(attempt)
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return RefreshRunResult{Attempts: attempt}, s.mapError(waitErr)
		}
	}
	return RefreshRunResult{Attempts: maxAttempts}, s.mapError(lastErr)
}

func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var exchErr *ExchangeError
	if errors.As(err, &exchErr) {
		return exchErr.Kind == ExchangeErrInvalidGrant || exchErr.Kind == ExchangeErrInvalidClient
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "re-authorization required")
}

func isRefreshLockHeld(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRefreshLockHeld) {
		return true
	}
	// Third-party lockers may not wrap the sentinel; fall back to the
	// mapped envelope's text code.
	var mapped *goerrors.Error
	if errors.As(err, &mapped) {
		return mapped.TextCode == IntegrationErrorRefreshLocked
	}
	return false
}

func resolveExpiry(now time.Time, expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	expiresAt := now.UTC().Add(time.Duration(expiresIn) * time.Second)
	return &expiresAt
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type MemoryIntegrationLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryIntegrationLocker() *MemoryIntegrationLocker {
	return &MemoryIntegrationLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryIntegrationLocker) Acquire(_ context.Context, integrationID string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: integration locker is not configured")
	}
	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		return nil, fmt.Errorf("core: integration id is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[integrationID]; ok && now.Before(until) {
		return nil, fmt.Errorf("%w for integration %q", ErrRefreshLockHeld, integrationID)
	}
	l.locks[integrationID] = now.Add(ttl)
	return &memoryLockHandle{locker: l, integrationID: integrationID}, nil
}

type memoryLockHandle struct {
	locker        *MemoryIntegrationLocker
	integrationID string
	once          sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.integrationID)
		h.locker.mu.Unlock()
	})
	return nil
}

var _ IntegrationLocker = (*MemoryIntegrationLocker)(nil)
