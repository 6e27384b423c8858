package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestService_CheckHealth_ActiveProbe(t *testing.T) {
	var gotAuthorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthorization = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"account_id": "dbid:abc"}`)
	}))
	defer server.Close()

	store := newMemoryIntegrationStore()
	sink := &capturingAuditSink{}
	provider := &stubProvider{
		id:               "dropbox",
		identityEndpoint: server.URL,
		accountIDFn:      func([]byte) (string, error) { return "dbid:abc", nil },
	}
	service := newTestService(t, store, provider,
		WithHTTPClient(server.Client()),
		WithAuditSink(sink),
	)
	seeded := seedIntegration(t, store, "tenant-1", "dropbox", timePtr(time.Now().UTC().Add(time.Hour)))

	report, err := service.CheckHealth(context.Background(), "tenant-1", "dropbox")
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if gotAuthorization != "Bearer access-old" {
		t.Fatalf("expected decrypted access token on the probe, got %q", gotAuthorization)
	}
	if report.Status != HealthStatusActive || report.AccountID != "dbid:abc" {
		t.Fatalf("unexpected report: %#v", report)
	}
	if report.CheckedAt.IsZero() {
		t.Fatalf("expected checked_at to be stamped")
	}

	stored, err := store.Get(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("read stored integration: %v", err)
	}
	if stored.Status != IntegrationStatusActive {
		t.Fatalf("active probe must not mutate status, got %q", stored.Status)
	}
	if stored.LastHealthCheckAt == nil {
		t.Fatalf("expected health check timestamp to persist")
	}
	if len(sink.EventTypes()) != 0 {
		t.Fatalf("no-transition probe must not emit audit events, got %v", sink.EventTypes())
	}
}

func TestService_CheckHealth_UnauthorizedMutatesToExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"code": "InvalidAuthenticationToken"}}`)
	}))
	defer server.Close()

	store := newMemoryIntegrationStore()
	sink := &capturingAuditSink{}
	provider := &stubProvider{id: "onedrive", identityEndpoint: server.URL}
	service := newTestService(t, store, provider,
		WithHTTPClient(server.Client()),
		WithAuditSink(sink),
	)
	seeded := seedIntegration(t, store, "tenant-1", "onedrive", timePtr(time.Now().UTC().Add(time.Hour)))

	report, err := service.CheckHealth(context.Background(), "tenant-1", "onedrive")
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if report.Status != HealthStatusExpired {
		t.Fatalf("expected expired verdict, got %q", report.Status)
	}
	if report.Message != "access token expired" {
		t.Fatalf("unexpected message %q", report.Message)
	}

	stored, err := store.Get(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("read stored integration: %v", err)
	}
	if stored.Status != IntegrationStatusExpired {
		t.Fatalf("expected stored status to follow the verdict, got %q", stored.Status)
	}

	types := sink.EventTypes()
	if len(types) != 1 || types[0] != AuditEventHealthTransition {
		t.Fatalf("expected health transition audit event, got %v", types)
	}
}

func TestService_CheckHealth_ForbiddenMutatesToRevoked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	store := newMemoryIntegrationStore()
	provider := &stubProvider{id: "gdrive", identityEndpoint: server.URL}
	service := newTestService(t, store, provider, WithHTTPClient(server.Client()))
	seeded := seedIntegration(t, store, "tenant-1", "gdrive", timePtr(time.Now().UTC().Add(time.Hour)))

	report, err := service.CheckHealth(context.Background(), "tenant-1", "gdrive")
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if report.Status != HealthStatusRevoked {
		t.Fatalf("expected revoked verdict, got %q", report.Status)
	}

	stored, err := store.Get(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("read stored integration: %v", err)
	}
	if stored.Status != IntegrationStatusRevoked {
		t.Fatalf("expected revoked stored status, got %q", stored.Status)
	}
}

func TestService_CheckHealth_ServerErrorDoesNotMutate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newMemoryIntegrationStore()
	sink := &capturingAuditSink{}
	provider := &stubProvider{id: "dropbox", identityEndpoint: server.URL}
	service := newTestService(t, store, provider,
		WithHTTPClient(server.Client()),
		WithAuditSink(sink),
	)
	seeded := seedIntegration(t, store, "tenant-1", "dropbox", timePtr(time.Now().UTC().Add(time.Hour)))

	report, err := service.CheckHealth(context.Background(), "tenant-1", "dropbox")
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if report.Status != HealthStatusError {
		t.Fatalf("a 5xx proves nothing about the token; expected error verdict, got %q", report.Status)
	}

	stored, err := store.Get(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("read stored integration: %v", err)
	}
	if stored.Status != IntegrationStatusActive {
		t.Fatalf("expected stored status untouched, got %q", stored.Status)
	}
	if len(sink.EventTypes()) != 0 {
		t.Fatalf("non-mutating probe must not emit audit events, got %v", sink.EventTypes())
	}
}

func TestService_CheckHealth_NetworkFailureReportsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	store := newMemoryIntegrationStore()
	provider := &stubProvider{id: "dropbox", identityEndpoint: endpoint}
	service := newTestService(t, store, provider)
	seeded := seedIntegration(t, store, "tenant-1", "dropbox", timePtr(time.Now().UTC().Add(time.Hour)))

	report, err := service.CheckHealth(context.Background(), "tenant-1", "dropbox")
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if report.Status != HealthStatusError {
		t.Fatalf("expected error verdict for an unreachable endpoint, got %q", report.Status)
	}

	stored, err := store.Get(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("read stored integration: %v", err)
	}
	if stored.Status != IntegrationStatusActive {
		t.Fatalf("expected stored status untouched, got %q", stored.Status)
	}
}

func TestService_CheckHealth_UnknownIntegration(t *testing.T) {
	store := newMemoryIntegrationStore()
	provider := &stubProvider{id: "dropbox"}
	service := newTestService(t, store, provider)

	if _, err := service.CheckHealth(context.Background(), "tenant-1", "dropbox"); err == nil {
		t.Fatalf("expected not found error")
	}
}
