package core

import (
	"reflect"
	"testing"
)

func TestRedactSensitiveMap(t *testing.T) {
	input := map[string]any{
		"tenant_id":     "tenant-1",
		"provider_id":   "dropbox",
		"access_token":  "sl.B-secret",
		"refresh_token": "rt-secret",
		"code_verifier": "verifier",
		"api_key":       "key",
		"nested": map[string]any{
			"client_secret": "shh",
			"account_id":    "dbid:abc",
		},
		"items": []any{
			map[string]any{"authorization": "Bearer x", "request_id": "req-1"},
		},
	}

	out := RedactSensitiveMap(input)

	want := map[string]any{
		"tenant_id":     "tenant-1",
		"provider_id":   "dropbox",
		"access_token":  RedactedValue,
		"refresh_token": RedactedValue,
		"code_verifier": RedactedValue,
		"api_key":       RedactedValue,
		"nested": map[string]any{
			"client_secret": RedactedValue,
			"account_id":    "dbid:abc",
		},
		"items": []any{
			map[string]any{"authorization": RedactedValue, "request_id": "req-1"},
		},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("unexpected redaction result: %#v", out)
	}

	// The source map is left alone.
	if input["access_token"] != "sl.B-secret" {
		t.Fatalf("redaction must not mutate the input")
	}
}

func TestRedactSensitiveMap_EmptyInput(t *testing.T) {
	out := RedactSensitiveMap(nil)
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty map, got %#v", out)
	}
}
