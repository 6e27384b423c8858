package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

var ErrProviderNotFound = errors.New("core: provider not found")

// StoreProvider hands out the stores a repository factory builds from a
// persistence client.
type StoreProvider interface {
	IntegrationStore() IntegrationStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// Service brokers OAuth2 grants between tenants and cloud-storage
// providers: it starts authorization flows, completes callbacks, keeps
// tokens fresh, and reports credential health.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	persistenceClient any
	repositoryFactory any
	cipher            TokenCipher
	stateTokens       *StateTokenManager
	verifierStore     CodeVerifierStore
	exchange          *ExchangeService
	locker            IntegrationLocker
	backoff           BackoffScheduler
	rateLimit         RateLimitPolicy
	auditSink         AuditSink
	registry          Registry
	store             IntegrationStore
	httpClient        HTTPDoer
	nowFn             func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	PersistenceClient any
	RepositoryFactory any
	TokenCipher       TokenCipher
	StateTokens       *StateTokenManager
	VerifierStore     CodeVerifierStore
	Exchange          *ExchangeService
	Locker            IntegrationLocker
	Backoff           BackoffScheduler
	RateLimitPolicy   RateLimitPolicy
	AuditSink         AuditSink
	Registry          Registry
	IntegrationStore  IntegrationStore
	HTTPClient        HTTPDoer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("integrations", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("integrations"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.auditSink == nil {
		builder.auditSink = NopAuditSink{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig = finalConfig.normalized()

	if builder.cipher == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: token cipher is required"))
	}
	if builder.stateTokens == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: state token manager is required"))
	}
	if builder.verifierStore == nil {
		builder.verifierStore = NewMemoryCodeVerifierStore(finalConfig.StateTokenTTL)
	}
	if builder.locker == nil {
		builder.locker = NewMemoryIntegrationLocker()
	}
	if builder.backoff == nil {
		builder.backoff = ExponentialBackoffScheduler{
			Initial: defaultRefreshInitialBackoff,
			Max:     defaultRefreshMaxBackoff,
		}
	}
	if builder.exchange == nil {
		exchange := NewExchangeService(builder.httpClient)
		exchange.Timeout = finalConfig.ExchangeTimeout
		exchange.Backoff = builder.backoff
		exchange.RateLimit = builder.rateLimitPolicy
		builder.exchange = exchange
	}

	if builder.store == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			storeProvider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				builder.store = storeProvider.IntegrationStore()
			}
		} else if storeProvider, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.store = storeProvider.IntegrationStore()
		}
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		cipher:            builder.cipher,
		stateTokens:       builder.stateTokens,
		verifierStore:     builder.verifierStore,
		exchange:          builder.exchange,
		locker:            builder.locker,
		backoff:           builder.backoff,
		rateLimit:         builder.rateLimitPolicy,
		auditSink:         builder.auditSink,
		registry:          builder.registry,
		store:             builder.store,
		httpClient:        builder.httpClient,
		nowFn:             func() time.Time { return time.Now().UTC() },
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		TokenCipher:       s.cipher,
		StateTokens:       s.stateTokens,
		VerifierStore:     s.verifierStore,
		Exchange:          s.exchange,
		Locker:            s.locker,
		Backoff:           s.backoff,
		RateLimitPolicy:   s.rateLimit,
		AuditSink:         s.auditSink,
		Registry:          s.registry,
		IntegrationStore:  s.store,
		HTTPClient:        s.httpClient,
	}
}

// BeginAuthorization issues the signed state token, stashes the PKCE
// verifier when the provider uses one, and returns the authorization URL
// the host application redirects the user to.
func (s *Service) BeginAuthorization(ctx context.Context, req BeginAuthorizationRequest) (response BeginAuthorizationResponse, err error) {
	if s == nil {
		return BeginAuthorizationResponse{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()
	fields := map[string]any{
		"tenant_id":   strings.TrimSpace(req.Principal.TenantID),
		"provider_id": strings.TrimSpace(req.ProviderID),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "begin_authorization", err, fields)
	}()

	tenantID := strings.TrimSpace(req.Principal.TenantID)
	if tenantID == "" {
		err = s.mapError(fmt.Errorf("core: tenant id is required"))
		return BeginAuthorizationResponse{}, err
	}
	redirectURI := strings.TrimSpace(req.RedirectURI)
	if redirectURI == "" {
		err = s.mapError(fmt.Errorf("core: redirect uri is required"))
		return BeginAuthorizationResponse{}, err
	}

	provider, resolveErr := s.resolveProvider(req.ProviderID)
	if resolveErr != nil {
		err = resolveErr
		return BeginAuthorizationResponse{}, err
	}

	state, issueErr := s.stateTokens.Issue(tenantID, provider.ID(), redirectURI)
	if issueErr != nil {
		err = s.mapError(issueErr)
		return BeginAuthorizationResponse{}, err
	}

	authReq := AuthRequest{
		State:       state,
		RedirectURI: redirectURI,
		Scopes:      cloneStrings(req.Scopes),
	}
	if provider.UsesPKCE() {
		verifier, verifierErr := GenerateCodeVerifier()
		if verifierErr != nil {
			err = s.mapError(verifierErr)
			return BeginAuthorizationResponse{}, err
		}
		if saveErr := s.verifierStore.Save(ctx, state, verifier, s.stateTokens.TTL()); saveErr != nil {
			err = s.mapError(saveErr)
			return BeginAuthorizationResponse{}, err
		}
		authReq.CodeChallenge = CodeChallengeS256(verifier)
	}

	redirect, beginErr := provider.BeginAuth(ctx, authReq)
	if beginErr != nil {
		err = s.mapError(beginErr)
		return BeginAuthorizationResponse{}, err
	}

	s.recordAudit(ctx, AuditEvent{
		TenantID:   tenantID,
		ProviderID: provider.ID(),
		EventType:  AuditEventAuthorizationStarted,
		Metadata: map[string]any{
			"created_by": strings.TrimSpace(req.Principal.UserID),
		},
	})

	return BeginAuthorizationResponse{
		AuthorizationURL: redirect.URL,
		State:            state,
		ProviderID:       provider.ID(),
		ExpiresAt:        s.now().Add(s.stateTokens.TTL()),
	}, nil
}

// HandleCallback drives the callback state machine to a terminal state.
// The result always carries the visited states; on failure the error is
// also returned mapped, so transports can render both.
func (s *Service) HandleCallback(ctx context.Context, req HandleCallbackRequest) (CallbackResult, error) {
	if s == nil {
		return CallbackResult{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()
	fields := map[string]any{
		"tenant_id": strings.TrimSpace(req.Principal.TenantID),
	}

	machine := NewCallbackStateMachine()
	integration, err := s.handleCallback(ctx, machine, req, fields)

	result := CallbackResult{
		State:         machine.Current(),
		FailureReason: machine.FailureReason(),
		Visited:       machine.Visited(),
		CompletedAt:   s.now(),
	}
	if err == nil {
		result.Integration = integration
	}
	s.observeOperation(ctx, startedAt, "handle_callback", err, fields)
	if err != nil {
		return result, s.mapError(err)
	}
	return result, nil
}

func (s *Service) handleCallback(
	ctx context.Context,
	machine *CallbackStateMachine,
	req HandleCallbackRequest,
	fields map[string]any,
) (Integration, error) {
	if s.store == nil {
		_ = machine.Fail(CallbackFailurePersistenceFailed, nil)
		return Integration{}, fmt.Errorf("core: integration store is not configured")
	}

	_ = machine.Advance(CallbackStateValidating)
	claims, err := s.stateTokens.Validate(ctx, req.State)
	if err != nil {
		_ = machine.Fail(failureReasonForStateError(err), err)
		return Integration{}, err
	}
	fields["provider_id"] = claims.ProviderID

	// Ownership is checked against the authenticated principal, not the
	// state payload alone: a valid state replayed by another tenant's
	// session must not complete.
	principalTenant := strings.TrimSpace(req.Principal.TenantID)
	if principalTenant == "" || principalTenant != claims.TenantID {
		err = fmt.Errorf("core: callback ownership mismatch for tenant %q", principalTenant)
		_ = machine.Fail(CallbackFailureOwnershipMismatch, err)
		return Integration{}, err
	}

	provider, err := s.resolveProviderRaw(claims.ProviderID)
	if err != nil {
		_ = machine.Fail(CallbackFailureExchangeFailed, err)
		return Integration{}, err
	}

	if errorCode := strings.TrimSpace(req.ErrorCode); errorCode != "" {
		err = fmt.Errorf("core: provider returned callback error %q: %s", errorCode, strings.TrimSpace(req.ErrorDescription))
		_ = machine.Fail(CallbackFailureExchangeFailed, err)
		s.auditCallbackFailure(ctx, claims, machine)
		return Integration{}, err
	}

	_ = machine.Advance(CallbackStateExchanging)
	exchangeReq := ExchangeCodeRequest{
		Code:        req.Code,
		RedirectURI: claims.RedirectURI,
	}
	if provider.UsesPKCE() {
		verifier, verifierErr := s.verifierStore.Consume(ctx, req.State)
		if verifierErr != nil {
			// Without the verifier the provider would reject the exchange
			// with an opaque 400; fail it here with the real cause.
			err = fmt.Errorf("core: consume code verifier: %w", verifierErr)
			_ = machine.Fail(CallbackFailureExchangeFailed, err)
			s.auditCallbackFailure(ctx, claims, machine)
			return Integration{}, err
		}
		exchangeReq.CodeVerifier = verifier
	}
	grant, err := s.exchange.ExchangeCode(ctx, provider, exchangeReq)
	if err != nil {
		_ = machine.Fail(CallbackFailureExchangeFailed, err)
		s.auditCallbackFailure(ctx, claims, machine)
		return Integration{}, err
	}

	_ = machine.Advance(CallbackStatePersisting)
	unlock := func() {}
	if s.locker != nil {
		handle, lockErr := s.locker.Acquire(ctx, refreshLockKey(claims.TenantID, claims.ProviderID), s.config.RefreshLockTTL)
		if lockErr != nil {
			_ = machine.Fail(CallbackFailurePersistenceFailed, lockErr)
			return Integration{}, lockErr
		}
		unlock = func() { _ = handle.Unlock(ctx) }
	}
	defer unlock()

	encryptedAccess, err := s.cipher.Encrypt(ctx, []byte(grant.AccessToken))
	if err != nil {
		wrapped := fmt.Errorf("core: encrypt access token: %w", err)
		_ = machine.Fail(CallbackFailurePersistenceFailed, wrapped)
		return Integration{}, wrapped
	}
	var encryptedRefresh []byte
	if strings.TrimSpace(grant.RefreshToken) != "" {
		encryptedRefresh, err = s.cipher.Encrypt(ctx, []byte(grant.RefreshToken))
		if err != nil {
			wrapped := fmt.Errorf("core: encrypt refresh token: %w", err)
			_ = machine.Fail(CallbackFailurePersistenceFailed, wrapped)
			return Integration{}, wrapped
		}
	}

	integration, err := s.store.Replace(ctx, ReplaceIntegrationInput{
		TenantID:              claims.TenantID,
		ProviderID:            claims.ProviderID,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		ScopesGranted:         grant.ScopesGranted,
		ExpiresAt:             resolveExpiry(s.now(), grant.ExpiresIn),
		Status:                IntegrationStatusActive,
		CreatedBy:             strings.TrimSpace(req.Principal.UserID),
	})
	if err != nil {
		_ = machine.Fail(CallbackFailurePersistenceFailed, err)
		s.auditCallbackFailure(ctx, claims, machine)
		return Integration{}, err
	}

	_ = machine.Advance(CallbackStateCompleted)
	fields["integration_id"] = integration.ID
	s.recordAudit(ctx, AuditEvent{
		TenantID:   claims.TenantID,
		ProviderID: claims.ProviderID,
		EventType:  AuditEventAuthorizationCompleted,
		Metadata: map[string]any{
			"integration_id": integration.ID,
			"scopes_granted": integration.ScopesGranted,
		},
	})
	return integration, nil
}

func (s *Service) auditCallbackFailure(ctx context.Context, claims StateClaims, machine *CallbackStateMachine) {
	s.recordAudit(ctx, AuditEvent{
		TenantID:   claims.TenantID,
		ProviderID: claims.ProviderID,
		EventType:  AuditEventAuthorizationFailed,
		Metadata: map[string]any{
			"failure_reason": string(machine.FailureReason()),
		},
	})
}

// Revoke retires the stored grant locally. The provider-side token stays
// whatever it is; the next health probe against a provider-revoked token
// would report revoked anyway.
func (s *Service) Revoke(ctx context.Context, tenantID, providerID, reason string) (err error) {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	startedAt := s.now()
	fields := map[string]any{
		"tenant_id":   strings.TrimSpace(tenantID),
		"provider_id": strings.TrimSpace(providerID),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke", err, fields)
	}()

	tenantID = strings.TrimSpace(tenantID)
	providerID = strings.TrimSpace(providerID)
	if tenantID == "" || providerID == "" {
		err = s.mapError(fmt.Errorf("core: tenant id and provider id are required"))
		return err
	}
	if s.store == nil {
		err = s.mapError(fmt.Errorf("core: integration store is not configured"))
		return err
	}

	integration, getErr := s.store.GetByTenantProvider(ctx, tenantID, providerID)
	if getErr != nil {
		err = s.mapError(getErr)
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "revoked by tenant"
	}
	if updateErr := s.store.UpdateStatus(ctx, integration.ID, IntegrationStatusRevoked, reason); updateErr != nil {
		err = s.mapError(updateErr)
		return err
	}
	s.recordAudit(ctx, AuditEvent{
		TenantID:   tenantID,
		ProviderID: providerID,
		EventType:  AuditEventTokenRevoked,
		Metadata: map[string]any{
			"integration_id": integration.ID,
			"reason":         reason,
		},
	})
	return nil
}

func (s *Service) GetIntegration(ctx context.Context, tenantID, providerID string) (Integration, error) {
	if s == nil {
		return Integration{}, fmt.Errorf("core: service is nil")
	}
	if s.store == nil {
		return Integration{}, s.mapError(fmt.Errorf("core: integration store is not configured"))
	}
	integration, err := s.store.GetByTenantProvider(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(providerID))
	if err != nil {
		return Integration{}, s.mapError(err)
	}
	return integration, nil
}

func (s *Service) ListIntegrations(ctx context.Context, tenantID string) ([]Integration, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	if s.store == nil {
		return nil, s.mapError(fmt.Errorf("core: integration store is not configured"))
	}
	integrations, err := s.store.ListByTenant(ctx, strings.TrimSpace(tenantID))
	if err != nil {
		return nil, s.mapError(err)
	}
	return integrations, nil
}

func (s *Service) resolveProvider(providerID string) (Provider, error) {
	provider, err := s.resolveProviderRaw(providerID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return provider, nil
}

func (s *Service) resolveProviderRaw(providerID string) (Provider, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, fmt.Errorf("core: provider id is required")
	}
	if s.registry == nil {
		return nil, fmt.Errorf("core: provider registry is not configured")
	}
	provider, ok := s.registry.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("core: provider not registered: %s", providerID)
	}
	return provider, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) now() time.Time {
	if s != nil && s.nowFn != nil {
		return s.nowFn().UTC()
	}
	return time.Now().UTC()
}

func refreshLockKey(tenantID, providerID string) string {
	return strings.TrimSpace(tenantID) + ":" + strings.TrimSpace(providerID)
}
