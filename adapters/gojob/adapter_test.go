package gojob

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestRefreshMessageCarriesIdempotencyKey(t *testing.T) {
	msg := NewRefreshMessage(" t1 ", " dropbox ", true)
	if msg.JobID != JobIDRefresh {
		t.Fatalf("expected refresh job id, got %q", msg.JobID)
	}
	if msg.IdempotencyKey != "integrations.refresh::t1::dropbox" {
		t.Fatalf("unexpected idempotency key: %q", msg.IdempotencyKey)
	}
	if msg.Parameters["tenant_id"] != "t1" || msg.Parameters["provider_id"] != "dropbox" {
		t.Fatalf("unexpected parameters: %#v", msg.Parameters)
	}
	if msg.Parameters["force"] != true {
		t.Fatalf("expected force flag to survive")
	}

	health := NewHealthCheckMessage("t1", "gdrive")
	if health.JobID != JobIDHealthCheck {
		t.Fatalf("expected health job id, got %q", health.JobID)
	}
	if health.IdempotencyKey != "integrations.health_check::t1::gdrive" {
		t.Fatalf("unexpected idempotency key: %q", health.IdempotencyKey)
	}
}

func TestMessageMappingRoundTrip(t *testing.T) {
	original := NewRefreshMessage("t1", "dropbox", false)
	original.DedupPolicy = "drop"

	converted := ToExecutionMessage(original)
	if converted == nil {
		t.Fatalf("expected converted message")
	}
	roundTrip := FromExecutionMessage(converted)
	if roundTrip.JobID != original.JobID {
		t.Fatalf("expected job id %q, got %q", original.JobID, roundTrip.JobID)
	}
	if roundTrip.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("expected idempotency key %q, got %q", original.IdempotencyKey, roundTrip.IdempotencyKey)
	}
	if roundTrip.DedupPolicy != original.DedupPolicy {
		t.Fatalf("expected dedup policy %q, got %q", original.DedupPolicy, roundTrip.DedupPolicy)
	}
	if roundTrip.Parameters["provider_id"] != "dropbox" {
		t.Fatalf("expected parameters to survive mapping")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	enqueueAdapter := NewEnqueuerAdapter(enqueuer)

	if err := enqueueAdapter.Enqueue(ctx, NewHealthCheckMessage("t1", "onedrive")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDHealthCheck {
		t.Fatalf("expected mapped go-job message")
	}

	dequeuer := &stubQueueDequeuer{delivery: &stubQueueDelivery{msg: enqueuer.last}}
	dequeueAdapter := NewDequeuerAdapter(dequeuer, RetryPolicy{})
	delivery, err := dequeueAdapter.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	got := delivery.Message()
	if got == nil || got.JobID != JobIDHealthCheck {
		t.Fatalf("expected mapped core message")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !dequeuer.delivery.(*stubQueueDelivery).acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	rawDelivery := &stubQueueDelivery{
		msg: &job.ExecutionMessage{JobID: JobIDRefresh},
	}
	adapter := NewDeliveryAdapter(rawDelivery, RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	})

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "transient",
	}, 1); err != nil {
		t.Fatalf("nack attempt 1: %v", err)
	}
	if rawDelivery.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", rawDelivery.nackOpts.Delay)
	}
	if !rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected message to be requeued before max attempts")
	}

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   time.Second,
		Requeue: true,
		Reason:  "still failing",
	}, 3); err != nil {
		t.Fatalf("nack max attempt: %v", err)
	}
	if rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected no requeue once max attempts is reached")
	}
	if !rawDelivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter on max attempts")
	}
}

func TestSweepRunner_DispatchesRefreshAndHealth(t *testing.T) {
	ctx := context.Background()
	svc := &stubIntegrationService{
		runRefreshFn: func(_ context.Context, req core.RefreshRequest, _ core.RefreshRunOptions) (core.RefreshRunResult, error) {
			if req.TenantID != "t1" || req.ProviderID != "dropbox" || !req.Force {
				t.Fatalf("unexpected refresh request: %#v", req)
			}
			return core.RefreshRunResult{Attempts: 1}, nil
		},
		checkHealthFn: func(_ context.Context, tenantID, providerID string) (core.HealthReport, error) {
			if tenantID != "t1" || providerID != "gdrive" {
				t.Fatalf("unexpected health request: %q %q", tenantID, providerID)
			}
			return core.HealthReport{Status: core.HealthStatusActive}, nil
		},
	}
	runner := NewSweepRunner(svc, core.RefreshRunOptions{MaxAttempts: 3})

	refreshDelivery := &stubCoreDelivery{msg: NewRefreshMessage("t1", "dropbox", true)}
	if err := runner.Handle(ctx, refreshDelivery, 0); err != nil {
		t.Fatalf("handle refresh: %v", err)
	}
	if !refreshDelivery.acked {
		t.Fatalf("expected refresh delivery ack")
	}

	healthDelivery := &stubCoreDelivery{msg: NewHealthCheckMessage("t1", "gdrive")}
	if err := runner.Handle(ctx, healthDelivery, 0); err != nil {
		t.Fatalf("handle health check: %v", err)
	}
	if !healthDelivery.acked {
		t.Fatalf("expected health delivery ack")
	}
}

func TestSweepRunner_NacksOnFailureAndDeadLettersUnknownJob(t *testing.T) {
	ctx := context.Background()
	svc := &stubIntegrationService{
		runRefreshFn: func(context.Context, core.RefreshRequest, core.RefreshRunOptions) (core.RefreshRunResult, error) {
			return core.RefreshRunResult{}, errors.New("provider unavailable")
		},
	}
	runner := NewSweepRunner(svc, core.RefreshRunOptions{})

	failing := &stubCoreDelivery{msg: NewRefreshMessage("t1", "dropbox", false)}
	if err := runner.Handle(ctx, failing, 2); err != nil {
		t.Fatalf("handle failing refresh: %v", err)
	}
	if failing.acked {
		t.Fatalf("expected no ack on failure")
	}
	if !failing.nackOpts.Requeue {
		t.Fatalf("expected requeue on transient failure")
	}
	if failing.nackOpts.Reason != "provider unavailable" {
		t.Fatalf("unexpected nack reason: %q", failing.nackOpts.Reason)
	}

	unknown := &stubCoreDelivery{msg: &core.JobExecutionMessage{JobID: "integrations.unknown"}}
	if err := runner.Handle(ctx, unknown, 0); err != nil {
		t.Fatalf("handle unknown job: %v", err)
	}
	if !unknown.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter for unknown job id")
	}
}

func TestWorkerHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	coreHook := &capturingHook{}
	adapter := NewWorkerHookAdapter(coreHook)

	evt := worker.Event{
		Message: &job.ExecutionMessage{
			JobID:          JobIDHealthCheck,
			IdempotencyKey: "integrations.health_check::t1::dropbox",
		},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	}

	adapter.OnRetry(context.Background(), evt)
	if coreHook.last.Message == nil {
		t.Fatalf("expected worker message mapping")
	}
	if coreHook.last.Message.JobID != JobIDHealthCheck {
		t.Fatalf("expected job id mapping, got %q", coreHook.last.Message.JobID)
	}
	if coreHook.last.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", coreHook.last.Attempt)
	}
	if coreHook.last.Delay != 5*time.Second {
		t.Fatalf("expected delay 5s, got %s", coreHook.last.Delay)
	}
	if coreHook.last.Err == nil || coreHook.last.Err.Error() != "retry" {
		t.Fatalf("expected error mapping")
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type stubCoreDelivery struct {
	msg      *core.JobExecutionMessage
	acked    bool
	nackOpts core.JobNackOptions
}

func (s *stubCoreDelivery) Message() *core.JobExecutionMessage {
	return s.msg
}

func (s *stubCoreDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubCoreDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	last core.JobWorkerEvent
}

func (h *capturingHook) OnStart(context.Context, core.JobWorkerEvent)   {}
func (h *capturingHook) OnSuccess(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnFailure(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.last = event
}

type stubIntegrationService struct {
	runRefreshFn  func(ctx context.Context, req core.RefreshRequest, opts core.RefreshRunOptions) (core.RefreshRunResult, error)
	checkHealthFn func(ctx context.Context, tenantID, providerID string) (core.HealthReport, error)
}

func (s *stubIntegrationService) BeginAuthorization(context.Context, core.BeginAuthorizationRequest) (core.BeginAuthorizationResponse, error) {
	return core.BeginAuthorizationResponse{}, fmt.Errorf("begin authorization not configured")
}

func (s *stubIntegrationService) HandleCallback(context.Context, core.HandleCallbackRequest) (core.CallbackResult, error) {
	return core.CallbackResult{}, fmt.Errorf("handle callback not configured")
}

func (s *stubIntegrationService) EnsureFresh(context.Context, string, string) (core.Integration, error) {
	return core.Integration{}, fmt.Errorf("ensure fresh not configured")
}

func (s *stubIntegrationService) Refresh(context.Context, core.RefreshRequest) (core.Integration, error) {
	return core.Integration{}, fmt.Errorf("refresh not configured")
}

func (s *stubIntegrationService) RunRefreshWithRetry(ctx context.Context, req core.RefreshRequest, opts core.RefreshRunOptions) (core.RefreshRunResult, error) {
	if s.runRefreshFn == nil {
		return core.RefreshRunResult{}, fmt.Errorf("run refresh not configured")
	}
	return s.runRefreshFn(ctx, req, opts)
}

func (s *stubIntegrationService) CheckHealth(ctx context.Context, tenantID, providerID string) (core.HealthReport, error) {
	if s.checkHealthFn == nil {
		return core.HealthReport{}, fmt.Errorf("check health not configured")
	}
	return s.checkHealthFn(ctx, tenantID, providerID)
}

func (s *stubIntegrationService) Revoke(context.Context, string, string, string) error {
	return fmt.Errorf("revoke not configured")
}

func (s *stubIntegrationService) GetIntegration(context.Context, string, string) (core.Integration, error) {
	return core.Integration{}, fmt.Errorf("get integration not configured")
}

func (s *stubIntegrationService) ListIntegrations(context.Context, string) ([]core.Integration, error) {
	return nil, fmt.Errorf("list integrations not configured")
}

var _ core.IntegrationService = (*stubIntegrationService)(nil)
