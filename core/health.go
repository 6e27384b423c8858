package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxIdentityResponseBodyBytes = 1 << 20 // 1 MiB

// CheckHealth probes the provider's identity endpoint with the stored access
// token and reports the verdict. The policy is asymmetric on purpose: only a
// provider-issued auth rejection (401/403 classified by the adapter) rewrites
// the stored status. A 5xx, timeout, or network failure proves nothing about
// the token, so it is reported as HealthStatusError and the stored status is
// left alone. Health checks never retry.
func (s *Service) CheckHealth(ctx context.Context, tenantID, providerID string) (HealthReport, error) {
	if s == nil {
		return HealthReport{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()
	fields := map[string]any{
		"tenant_id":   strings.TrimSpace(tenantID),
		"provider_id": strings.TrimSpace(providerID),
	}

	report, err := s.checkHealth(ctx, tenantID, providerID)
	if err == nil {
		fields["health_status"] = string(report.Status)
	}
	s.observeOperation(ctx, startedAt, "check_health", err, fields)
	if err != nil {
		return HealthReport{}, s.mapError(err)
	}
	return report, nil
}

func (s *Service) checkHealth(ctx context.Context, tenantID, providerID string) (HealthReport, error) {
	tenantID = strings.TrimSpace(tenantID)
	providerID = strings.TrimSpace(providerID)
	if tenantID == "" {
		return HealthReport{}, fmt.Errorf("core: tenant id is required")
	}
	if providerID == "" {
		return HealthReport{}, fmt.Errorf("core: provider id is required")
	}
	if s.store == nil {
		return HealthReport{}, fmt.Errorf("core: integration store is not configured")
	}

	provider, ok := s.registry.Get(providerID)
	if !ok {
		return HealthReport{}, fmt.Errorf("core: provider not registered: %s", providerID)
	}
	integration, err := s.store.GetByTenantProvider(ctx, tenantID, providerID)
	if err != nil {
		return HealthReport{}, err
	}

	accessToken, err := s.cipher.Decrypt(ctx, integration.EncryptedAccessToken)
	if err != nil {
		return HealthReport{}, fmt.Errorf("core: decrypt access token: %w", err)
	}

	key := RateLimitKey{ProviderID: providerID, TenantID: tenantID, BucketKey: "identity"}
	if s.rateLimit != nil {
		if err := s.rateLimit.BeforeCall(ctx, key); err != nil {
			return HealthReport{}, err
		}
	}

	report := s.probeIdentity(ctx, provider, string(accessToken), key)
	report.CheckedAt = s.now()

	priorStatus := integration.Status
	mutate := report.MutatesStoredStatus()
	if err := s.store.RecordHealth(ctx, integration.ID, report, mutate); err != nil {
		return HealthReport{}, err
	}
	if mutate && IntegrationStatus(report.Status) != priorStatus {
		s.recordAudit(ctx, AuditEvent{
			TenantID:   tenantID,
			ProviderID: providerID,
			EventType:  AuditEventHealthTransition,
			Metadata: map[string]any{
				"integration_id": integration.ID,
				"from":           string(priorStatus),
				"to":             string(report.Status),
				"message":        report.Message,
			},
		})
	}
	return report, nil
}

func (s *Service) probeIdentity(ctx context.Context, provider Provider, accessToken string, key RateLimitKey) HealthReport {
	requestCtx := ctx
	cancel := func() {}
	if s.config.HealthTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, s.config.HealthTimeout)
	}
	defer cancel()

	req, err := provider.IdentityRequest(requestCtx, accessToken)
	if err != nil {
		return HealthReport{Status: HealthStatusError, Message: fmt.Sprintf("build identity request: %v", err)}
	}

	client := s.httpClient
	if client == nil {
		client = &http.Client{Timeout: s.config.HealthTimeout}
	}
	response, err := client.Do(req)
	if err != nil {
		return HealthReport{Status: HealthStatusError, Message: fmt.Sprintf("identity request failed: %v", err)}
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxIdentityResponseBodyBytes))
	if s.rateLimit != nil {
		_ = s.rateLimit.AfterCall(ctx, key, ProviderResponseMeta{
			StatusCode: response.StatusCode,
			Headers:    flattenHeaders(response.Header),
		})
	}
	if readErr != nil {
		return HealthReport{Status: HealthStatusError, Message: fmt.Sprintf("read identity response: %v", readErr)}
	}

	if response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices {
		accountID, idErr := provider.AccountID(body)
		if idErr != nil {
			return HealthReport{Status: HealthStatusError, Message: fmt.Sprintf("parse identity response: %v", idErr)}
		}
		return HealthReport{Status: HealthStatusActive, AccountID: accountID, Message: "ok"}
	}

	status := provider.ClassifyIdentity(response.StatusCode, body)
	message := fmt.Sprintf("identity endpoint returned %d", response.StatusCode)
	switch status {
	case HealthStatusExpired:
		message = "access token expired"
	case HealthStatusRevoked:
		message = "access revoked by provider"
	}
	return HealthReport{Status: status, Message: message}
}
