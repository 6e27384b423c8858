package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrStateInvalid  = errors.New("core: state token invalid")
	ErrStateExpired  = errors.New("core: state token expired")
	ErrStateReplayed = errors.New("core: state token replayed")
)

const stateTokenIssuer = "go-integrations"

// StateClaims is what a validated state token asserts: which tenant started
// the flow, against which provider, and where the provider should send the
// browser back.
type StateClaims struct {
	TenantID    string
	ProviderID  string
	RedirectURI string
	Nonce       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type stateTokenClaims struct {
	TenantID    string `json:"tenant_id"`
	ProviderID  string `json:"provider_id"`
	RedirectURI string `json:"redirect_uri"`
	jwt.RegisteredClaims
}

// StateTokenManager issues and validates the CSRF state parameter for the
// authorization redirect. Tokens are HS256 signed, time boxed, and single
// use: Validate claims the nonce in the replay ledger before returning, so
// of two concurrent callbacks carrying the same state exactly one wins.
type StateTokenManager struct {
	secret []byte
	ttl    time.Duration
	ledger ReplayLedger
	Now    func() time.Time
}

type StateTokenOption func(*StateTokenManager)

func WithStateTokenTTL(ttl time.Duration) StateTokenOption {
	return func(m *StateTokenManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithStateTokenLedger(ledger ReplayLedger) StateTokenOption {
	return func(m *StateTokenManager) {
		if ledger != nil {
			m.ledger = ledger
		}
	}
}

func NewStateTokenManager(secret []byte, opts ...StateTokenOption) (*StateTokenManager, error) {
	trimmed := strings.TrimSpace(string(secret))
	if trimmed == "" {
		return nil, fmt.Errorf("core: state token secret is required")
	}
	manager := &StateTokenManager{
		secret: []byte(trimmed),
		ttl:    10 * time.Minute,
		Now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(manager)
	}
	if manager.ledger == nil {
		manager.ledger = NewMemoryReplayLedger(manager.ttl)
	}
	return manager, nil
}

func (m *StateTokenManager) TTL() time.Duration {
	if m == nil {
		return 0
	}
	return m.ttl
}

func (m *StateTokenManager) Issue(tenantID, providerID, redirectURI string) (string, error) {
	if m == nil {
		return "", fmt.Errorf("core: state token manager is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	providerID = strings.TrimSpace(providerID)
	redirectURI = strings.TrimSpace(redirectURI)
	if tenantID == "" {
		return "", fmt.Errorf("core: tenant id is required")
	}
	if providerID == "" {
		return "", fmt.Errorf("core: provider id is required")
	}
	if redirectURI == "" {
		return "", fmt.Errorf("core: redirect uri is required")
	}

	now := m.now()
	claims := stateTokenClaims{
		TenantID:    tenantID,
		ProviderID:  providerID,
		RedirectURI: redirectURI,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateTokenIssuer,
			Subject:   tenantID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("core: sign state token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature and expiry, then claims the nonce. Expiry is
// checked before the replay claim so an expired token never consumes ledger
// capacity; a valid token consumed twice reports ErrStateReplayed.
func (m *StateTokenManager) Validate(ctx context.Context, token string) (StateClaims, error) {
	if m == nil {
		return StateClaims{}, fmt.Errorf("core: state token manager is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return StateClaims{}, ErrStateInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, &stateTokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("core: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(stateTokenIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return StateClaims{}, ErrStateExpired
		}
		return StateClaims{}, fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}
	claims, ok := parsed.Claims.(*stateTokenClaims)
	if !ok || !parsed.Valid {
		return StateClaims{}, ErrStateInvalid
	}
	nonce := strings.TrimSpace(claims.ID)
	if nonce == "" {
		return StateClaims{}, ErrStateInvalid
	}

	ledgerTTL := m.ttl
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(m.now()); remaining > 0 {
			ledgerTTL = remaining
		}
	}
	claimed, err := m.ledger.Claim(ctx, "state:"+nonce, ledgerTTL)
	if err != nil {
		return StateClaims{}, fmt.Errorf("core: claim state nonce: %w", err)
	}
	if !claimed {
		return StateClaims{}, ErrStateReplayed
	}

	out := StateClaims{
		TenantID:    strings.TrimSpace(claims.TenantID),
		ProviderID:  strings.TrimSpace(claims.ProviderID),
		RedirectURI: strings.TrimSpace(claims.RedirectURI),
		Nonce:       nonce,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if out.TenantID == "" || out.ProviderID == "" {
		return StateClaims{}, ErrStateInvalid
	}
	return out, nil
}

func (m *StateTokenManager) now() time.Time {
	if m != nil && m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}
