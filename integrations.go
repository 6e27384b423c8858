package integrations

import "github.com/goliatone/go-integrations/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Provider = core.Provider
type Registry = core.Registry
type TokenCipher = core.TokenCipher
type IntegrationStore = core.IntegrationStore
type IntegrationLocker = core.IntegrationLocker
type ReplayLedger = core.ReplayLedger
type RateLimitPolicy = core.RateLimitPolicy
type AuditSink = core.AuditSink
type MetricsRecorder = core.MetricsRecorder

type Integration = core.Integration
type IntegrationStatus = core.IntegrationStatus
type HealthReport = core.HealthReport
type HealthStatus = core.HealthStatus
type AuditEvent = core.AuditEvent

type BeginAuthorizationRequest = core.BeginAuthorizationRequest
type BeginAuthorizationResponse = core.BeginAuthorizationResponse
type HandleCallbackRequest = core.HandleCallbackRequest
type CallbackResult = core.CallbackResult
type RefreshRequest = core.RefreshRequest
type RefreshRunOptions = core.RefreshRunOptions
type RefreshRunResult = core.RefreshRunResult

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithTokenCipher       = core.WithTokenCipher
	WithStateTokenManager = core.WithStateTokenManager
	WithCodeVerifierStore = core.WithCodeVerifierStore
	WithExchangeService   = core.WithExchangeService
	WithIntegrationLocker = core.WithIntegrationLocker
	WithBackoffScheduler  = core.WithBackoffScheduler
	WithRateLimitPolicy   = core.WithRateLimitPolicy
	WithAuditSink         = core.WithAuditSink
	WithRegistry          = core.WithRegistry
	WithIntegrationStore  = core.WithIntegrationStore
	WithHTTPClient        = core.WithHTTPClient
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
