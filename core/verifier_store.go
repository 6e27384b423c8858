package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultVerifierTTL = 10 * time.Minute

// CodeVerifierStore holds PKCE code verifiers between the authorization
// redirect and the callback, keyed by the state-token nonce. Verifiers never
// ride through the browser: only the S256 challenge does.
type CodeVerifierStore interface {
	Save(ctx context.Context, nonce, verifier string, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (string, error)
}

type verifierEntry struct {
	verifier  string
	expiresAt time.Time
}

type MemoryCodeVerifierStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]verifierEntry
	Now     func() time.Time
}

func NewMemoryCodeVerifierStore(ttl time.Duration) *MemoryCodeVerifierStore {
	if ttl <= 0 {
		ttl = defaultVerifierTTL
	}
	return &MemoryCodeVerifierStore{
		ttl:     ttl,
		entries: map[string]verifierEntry{},
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryCodeVerifierStore) Save(_ context.Context, nonce, verifier string, ttl time.Duration) error {
	if s == nil {
		return fmt.Errorf("core: code verifier store is not configured")
	}
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return fmt.Errorf("core: verifier nonce is required")
	}
	verifier = strings.TrimSpace(verifier)
	if verifier == "" {
		return fmt.Errorf("core: code verifier is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.entries[nonce] = verifierEntry{verifier: verifier, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryCodeVerifierStore) Consume(_ context.Context, nonce string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("core: code verifier store is not configured")
	}
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return "", fmt.Errorf("core: verifier nonce is required")
	}

	s.mu.Lock()
	entry, ok := s.entries[nonce]
	if ok {
		delete(s.entries, nonce)
	}
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("core: code verifier not found")
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		return "", fmt.Errorf("core: code verifier expired")
	}
	return entry.verifier, nil
}

func (s *MemoryCodeVerifierStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// GenerateCodeVerifier returns a RFC 7636 verifier (43 chars, base64url).
func GenerateCodeVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// CodeChallengeS256 derives the challenge sent on the authorization URL.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(verifier)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

var _ CodeVerifierStore = (*MemoryCodeVerifierStore)(nil)
