package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Principal is the authenticated caller handed in by the host application.
// Ownership checks compare the principal's tenant against the tenant the
// state token was issued for.
type Principal struct {
	TenantID string
	UserID   string
}

type BeginAuthorizationRequest struct {
	Principal   Principal
	ProviderID  string
	RedirectURI string
	Scopes      []string
	Metadata    map[string]any
}

type BeginAuthorizationResponse struct {
	AuthorizationURL string
	State            string
	ProviderID       string
	ExpiresAt        time.Time
}

type HandleCallbackRequest struct {
	Principal Principal
	State     string
	Code      string
	// ErrorCode carries the provider's error query parameter when the user
	// denied consent or the provider aborted the flow.
	ErrorCode        string
	ErrorDescription string
}

// AuthRequest is what a provider adapter needs to build its authorization
// redirect URL.
type AuthRequest struct {
	State       string
	RedirectURI string
	Scopes      []string
	// CodeChallenge is the S256 PKCE challenge, set when the adapter
	// declares UsesPKCE.
	CodeChallenge string
}

type AuthRedirect struct {
	URL string
}

// TokenGrant is the normalized result of a code exchange or refresh.
type TokenGrant struct {
	AccessToken   string
	RefreshToken  string
	TokenType     string
	ExpiresIn     int64
	ScopesGranted []string
	Raw           map[string]any
}

// IdentityRequestSpec describes the exact HTTP request a provider mandates
// for its identity endpoint. Health checks replay it verbatim: some
// providers reject requests whose method, content type, or body deviate
// from their documented shape.
type IdentityRequestSpec struct {
	Method      string
	URL         string
	ContentType string
	Accept      string
	Body        []byte
}

// Provider is one supported third-party service. The set is closed: adding
// a provider means writing an adapter package, not configuring a generic one.
type Provider interface {
	ID() string
	AuthKind() string
	Scopes() []string
	UsesPKCE() bool

	BeginAuth(ctx context.Context, req AuthRequest) (AuthRedirect, error)
	// TokenRequest builds the code-exchange or refresh request for the
	// provider's token endpoint. The exchange service owns transport,
	// retries, and classification.
	TokenRequest(ctx context.Context, form TokenRequestForm) (*http.Request, error)
	IdentityRequest(ctx context.Context, accessToken string) (*http.Request, error)
	// AccountID extracts the provider-side account identifier from a
	// successful identity response body.
	AccountID(body []byte) (string, error)
	// ClassifyIdentity maps an identity-endpoint response onto a health
	// status using the provider's own error vocabulary.
	ClassifyIdentity(statusCode int, body []byte) HealthStatus
}

type TokenGrantType string

const (
	GrantTypeAuthorizationCode TokenGrantType = "authorization_code"
	GrantTypeRefreshToken      TokenGrantType = "refresh_token"
)

type TokenRequestForm struct {
	GrantType    TokenGrantType
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
}

type Registry interface {
	Register(provider Provider) error
	Get(providerID string) (Provider, bool)
	List() []Provider
}

// TokenCipher encrypts token material before it touches storage. Decrypt
// must reject any envelope whose authentication tag does not verify.
type TokenCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type ReplaceIntegrationInput struct {
	TenantID              string
	ProviderID            string
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	ScopesGranted         []string
	ExpiresAt             *time.Time
	Status                IntegrationStatus
	CreatedBy             string
}

type IntegrationStore interface {
	// Replace supersedes any live grant for the tenant+provider pair and
	// persists the new one in a single transaction.
	Replace(ctx context.Context, in ReplaceIntegrationInput) (Integration, error)
	Get(ctx context.Context, id string) (Integration, error)
	GetByTenantProvider(ctx context.Context, tenantID, providerID string) (Integration, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Integration, error)
	UpdateStatus(ctx context.Context, id string, status IntegrationStatus, message string) error
	// UpdateTokens rewrites the encrypted token material and expiry after a
	// successful refresh, leaving identity fields untouched.
	UpdateTokens(ctx context.Context, id string, accessToken, refreshToken []byte, expiresAt *time.Time) error
	// RecordHealth stamps the probe outcome; mutateStatus gates whether the
	// stored status follows the report.
	RecordHealth(ctx context.Context, id string, report HealthReport, mutateStatus bool) error
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// IntegrationLocker serializes refreshes per integration. The memory
// implementation covers a single process; multi-process deployments plug in
// a shared locker behind the same interface.
type IntegrationLocker interface {
	Acquire(ctx context.Context, integrationID string, ttl time.Duration) (LockHandle, error)
}

// ReplayLedger is a TTL-bounded single-use set. Claim returns false when the
// key was already claimed and is still live.
type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type RateLimitKey struct {
	ProviderID string
	TenantID   string
	BucketKey  string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// HTTPDoer is the slice of *http.Client the exchange and health paths use.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// IntegrationService is the full operation surface command and query
// handlers dispatch against.
type IntegrationService interface {
	BeginAuthorization(ctx context.Context, req BeginAuthorizationRequest) (BeginAuthorizationResponse, error)
	HandleCallback(ctx context.Context, req HandleCallbackRequest) (CallbackResult, error)
	EnsureFresh(ctx context.Context, tenantID, providerID string) (Integration, error)
	Refresh(ctx context.Context, req RefreshRequest) (Integration, error)
	RunRefreshWithRetry(ctx context.Context, req RefreshRequest, opts RefreshRunOptions) (RefreshRunResult, error)
	CheckHealth(ctx context.Context, tenantID, providerID string) (HealthReport, error)
	Revoke(ctx context.Context, tenantID, providerID, reason string) error
	GetIntegration(ctx context.Context, tenantID, providerID string) (Integration, error)
	ListIntegrations(ctx context.Context, tenantID string) ([]Integration, error)
}
