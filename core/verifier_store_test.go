package core

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMemoryCodeVerifierStore_SaveConsumeIsSingleUse(t *testing.T) {
	store := NewMemoryCodeVerifierStore(time.Minute)

	if err := store.Save(context.Background(), "nonce-1", "verifier-1", time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	verifier, err := store.Consume(context.Background(), "nonce-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if verifier != "verifier-1" {
		t.Fatalf("unexpected verifier %q", verifier)
	}

	if _, err := store.Consume(context.Background(), "nonce-1"); err == nil {
		t.Fatalf("expected second consume to fail")
	}
}

func TestMemoryCodeVerifierStore_ExpiredVerifier(t *testing.T) {
	frozen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryCodeVerifierStore(time.Minute)
	store.Now = func() time.Time { return frozen }

	if err := store.Save(context.Background(), "nonce-1", "verifier-1", time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	store.Now = func() time.Time { return frozen.Add(2 * time.Minute) }
	if _, err := store.Consume(context.Background(), "nonce-1"); err == nil {
		t.Fatalf("expected expired verifier error")
	}
}

func TestMemoryCodeVerifierStore_Validation(t *testing.T) {
	store := NewMemoryCodeVerifierStore(time.Minute)

	if err := store.Save(context.Background(), "  ", "verifier-1", time.Minute); err == nil {
		t.Fatalf("expected missing nonce error")
	}
	if err := store.Save(context.Background(), "nonce-1", "  ", time.Minute); err == nil {
		t.Fatalf("expected missing verifier error")
	}
	if _, err := store.Consume(context.Background(), "unknown"); err == nil {
		t.Fatalf("expected unknown nonce error")
	}
}

func TestGenerateCodeVerifierAndChallenge(t *testing.T) {
	first, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct verifiers")
	}
	if len(first) != 43 {
		t.Fatalf("expected 43 char base64url verifier, got %d", len(first))
	}

	challenge := CodeChallengeS256(first)
	if challenge == first {
		t.Fatalf("challenge must not equal the verifier")
	}
	if strings.ContainsAny(challenge, "+/=") {
		t.Fatalf("challenge must be base64url without padding, got %q", challenge)
	}
	if CodeChallengeS256(first) != challenge {
		t.Fatalf("challenge derivation must be deterministic")
	}
}
