package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestExchangeService_ExchangeCode_ParsesJSONResponse(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"grant_type":    r.PostFormValue("grant_type"),
			"code":          r.PostFormValue("code"),
			"redirect_uri":  r.PostFormValue("redirect_uri"),
			"code_verifier": r.PostFormValue("code_verifier"),
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"access_token": "  at-1  ",
			"refresh_token": "rt-1",
			"token_type": "Bearer",
			"expires_in": 3600,
			"scope": "files.write files.read files.read"
		}`)
	}))
	defer server.Close()

	service := NewExchangeService(server.Client())
	provider := &stubProvider{id: "dropbox", tokenEndpoint: server.URL}

	grant, err := service.ExchangeCode(context.Background(), provider, ExchangeCodeRequest{
		Code:         "auth-code",
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: "verifier",
	})
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}

	if gotForm["grant_type"] != "authorization_code" || gotForm["code"] != "auth-code" {
		t.Fatalf("unexpected token request form: %#v", gotForm)
	}
	if gotForm["code_verifier"] != "verifier" {
		t.Fatalf("expected code verifier to reach the endpoint")
	}
	if grant.AccessToken != "at-1" || grant.RefreshToken != "rt-1" {
		t.Fatalf("unexpected grant tokens: %#v", grant)
	}
	if grant.TokenType != "bearer" {
		t.Fatalf("expected lowercased token type, got %q", grant.TokenType)
	}
	if grant.ExpiresIn != 3600 {
		t.Fatalf("unexpected expires_in %d", grant.ExpiresIn)
	}
	if !reflect.DeepEqual(grant.ScopesGranted, []string{"files.write", "files.read"}) {
		t.Fatalf("expected deduped scopes in provider order, got %#v", grant.ScopesGranted)
	}
}

func TestExchangeService_ExchangeCode_PreservesProviderScopeOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"access_token": "at-order",
			"token_type": "bearer",
			"scope": "zeta alpha middle alpha"
		}`)
	}))
	defer server.Close()

	service := NewExchangeService(server.Client())
	provider := &stubProvider{id: "dropbox", tokenEndpoint: server.URL}

	grant, err := service.ExchangeCode(context.Background(), provider, ExchangeCodeRequest{Code: "code"})
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	// Granted scopes keep the order the provider returned them in.
	if !reflect.DeepEqual(grant.ScopesGranted, []string{"zeta", "alpha", "middle"}) {
		t.Fatalf("scopes reordered: got %v", grant.ScopesGranted)
	}
}

func TestExchangeService_ParsesFormEncodedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		fmt.Fprint(w, "access_token=at-form&token_type=bearer&expires_in=7200&scope=drive.readonly")
	}))
	defer server.Close()

	service := NewExchangeService(server.Client())
	provider := &stubProvider{id: "gdrive", tokenEndpoint: server.URL}

	grant, err := service.ExchangeCode(context.Background(), provider, ExchangeCodeRequest{Code: "code"})
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}
	if grant.AccessToken != "at-form" || grant.ExpiresIn != 7200 {
		t.Fatalf("unexpected grant: %#v", grant)
	}
	if !reflect.DeepEqual(grant.ScopesGranted, []string{"drive.readonly"}) {
		t.Fatalf("unexpected scopes: %#v", grant.ScopesGranted)
	}
}

func TestExchangeService_RetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token": "at-retry", "token_type": "bearer"}`)
	}))
	defer server.Close()

	service := NewExchangeService(server.Client())
	service.Backoff = zeroBackoff{}
	provider := &stubProvider{id: "dropbox", tokenEndpoint: server.URL}

	grant, err := service.RefreshGrant(context.Background(), provider, "rt-1")
	if err != nil {
		t.Fatalf("refresh grant: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if grant.AccessToken != "at-retry" {
		t.Fatalf("unexpected grant: %#v", grant)
	}
}

func TestExchangeService_InvalidGrantIsTerminal(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_grant", "error_description": "refresh token revoked"}`)
	}))
	defer server.Close()

	service := NewExchangeService(server.Client())
	service.Backoff = zeroBackoff{}
	provider := &stubProvider{id: "onedrive", tokenEndpoint: server.URL}

	_, err := service.RefreshGrant(context.Background(), provider, "rt-dead")
	if err == nil {
		t.Fatalf("expected invalid_grant failure")
	}
	if attempts != 1 {
		t.Fatalf("terminal failure must not retry, got %d attempts", attempts)
	}

	var exchErr *ExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("expected ExchangeError, got %T", err)
	}
	if exchErr.Kind != ExchangeErrInvalidGrant || !exchErr.Terminal() {
		t.Fatalf("unexpected classification: %#v", exchErr)
	}
	if exchErr.Description != "refresh token revoked" {
		t.Fatalf("unexpected description %q", exchErr.Description)
	}
}

func TestExchangeService_ExhaustsTransientRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	service := NewExchangeService(server.Client())
	service.Backoff = zeroBackoff{}
	service.MaxAttempts = 2
	provider := &stubProvider{id: "dropbox", tokenEndpoint: server.URL}

	_, err := service.RefreshGrant(context.Background(), provider, "rt-1")
	if err == nil {
		t.Fatalf("expected transient exhaustion failure")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	var exchErr *ExchangeError
	if !errors.As(err, &exchErr) || exchErr.Kind != ExchangeErrTransient {
		t.Fatalf("expected transient classification, got %v", err)
	}
}

func TestExchangeService_MissingAccessTokenIsContractError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token_type": "bearer"}`)
	}))
	defer server.Close()

	service := NewExchangeService(server.Client())
	provider := &stubProvider{id: "dropbox", tokenEndpoint: server.URL}

	_, err := service.ExchangeCode(context.Background(), provider, ExchangeCodeRequest{Code: "code"})
	var exchErr *ExchangeError
	if !errors.As(err, &exchErr) || exchErr.Kind != ExchangeErrContract {
		t.Fatalf("expected contract classification, got %v", err)
	}
	if !exchErr.Terminal() {
		t.Fatalf("contract failures are terminal")
	}
}

func TestExchangeService_InputValidation(t *testing.T) {
	service := NewExchangeService(nil)
	provider := &stubProvider{id: "dropbox"}

	if _, err := service.ExchangeCode(context.Background(), provider, ExchangeCodeRequest{}); err == nil {
		t.Fatalf("expected missing code error")
	}
	if _, err := service.RefreshGrant(context.Background(), provider, "  "); err == nil {
		t.Fatalf("expected missing refresh token error")
	}
	if _, err := service.ExchangeCode(context.Background(), nil, ExchangeCodeRequest{Code: "code"}); err == nil {
		t.Fatalf("expected missing provider error")
	}
}
