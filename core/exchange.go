package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultExchangeTimeout     = 10 * time.Second
	defaultExchangeMaxAttempts = 3
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

// ExchangeErrorKind classifies a token-endpoint failure for retry decisions.
type ExchangeErrorKind string

const (
	// ExchangeErrInvalidGrant: the code or refresh token is dead at the
	// provider. Terminal; retrying re-burns nothing but must not happen.
	ExchangeErrInvalidGrant ExchangeErrorKind = "invalid_grant"
	// ExchangeErrInvalidClient: client credentials are wrong. Terminal.
	ExchangeErrInvalidClient ExchangeErrorKind = "invalid_client"
	// ExchangeErrContract: the provider rejected the request shape.
	ExchangeErrContract ExchangeErrorKind = "contract"
	// ExchangeErrTransient: network failure, timeout, 429, or 5xx.
	ExchangeErrTransient ExchangeErrorKind = "transient"
)

type ExchangeError struct {
	Kind        ExchangeErrorKind
	ProviderID  string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *ExchangeError) Error() string {
	if e == nil {
		return ""
	}
	detail := strings.TrimSpace(e.Description)
	if detail == "" {
		detail = strings.TrimSpace(e.Code)
	}
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	if detail == "" {
		detail = "unknown error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("core: token exchange failed for provider %q (%s, status %d): %s", e.ProviderID, e.Kind, e.StatusCode, detail)
	}
	return fmt.Sprintf("core: token exchange failed for provider %q (%s): %s", e.ProviderID, e.Kind, detail)
}

func (e *ExchangeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Terminal reports whether retrying the same request can ever succeed.
func (e *ExchangeError) Terminal() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case ExchangeErrInvalidGrant, ExchangeErrInvalidClient, ExchangeErrContract:
		return true
	default:
		return false
	}
}

type ExchangeCodeRequest struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// ExchangeService talks to provider token endpoints. Adapters own the
// request shape; this service owns transport, bounded retry of transient
// failures, and error classification. Terminal failures are surfaced on the
// first attempt: an authorization code is single use, so a blind retry can
// only ever manufacture invalid_grant noise.
type ExchangeService struct {
	HTTPClient  HTTPDoer
	Timeout     time.Duration
	MaxAttempts int
	Backoff     BackoffScheduler
	RateLimit   RateLimitPolicy
	Now         func() time.Time
}

func NewExchangeService(client HTTPDoer) *ExchangeService {
	if client == nil {
		client = &http.Client{Timeout: defaultExchangeTimeout}
	}
	return &ExchangeService{
		HTTPClient:  client,
		Timeout:     defaultExchangeTimeout,
		MaxAttempts: defaultExchangeMaxAttempts,
		Backoff:     ExponentialBackoffScheduler{},
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *ExchangeService) ExchangeCode(ctx context.Context, provider Provider, req ExchangeCodeRequest) (TokenGrant, error) {
	if s == nil {
		return TokenGrant{}, fmt.Errorf("core: exchange service is nil")
	}
	if provider == nil {
		return TokenGrant{}, fmt.Errorf("core: provider is required")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return TokenGrant{}, fmt.Errorf("core: authorization code is required")
	}
	form := TokenRequestForm{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  strings.TrimSpace(req.RedirectURI),
		CodeVerifier: strings.TrimSpace(req.CodeVerifier),
	}
	return s.requestWithRetry(ctx, provider, form)
}

func (s *ExchangeService) RefreshGrant(ctx context.Context, provider Provider, refreshToken string) (TokenGrant, error) {
	if s == nil {
		return TokenGrant{}, fmt.Errorf("core: exchange service is nil")
	}
	if provider == nil {
		return TokenGrant{}, fmt.Errorf("core: provider is required")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenGrant{}, fmt.Errorf("core: refresh token is required")
	}
	form := TokenRequestForm{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: refreshToken,
	}
	return s.requestWithRetry(ctx, provider, form)
}

func (s *ExchangeService) requestWithRetry(ctx context.Context, provider Provider, form TokenRequestForm) (TokenGrant, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	maxAttempts := s.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultExchangeMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		grant, err := s.requestOnce(ctx, provider, form)
		if err == nil {
			return grant, nil
		}
		lastErr = err

		var exchErr *ExchangeError
		if errors.As(err, &exchErr) && exchErr.Terminal() {
			return TokenGrant{}, err
		}
		if attempt == maxAttempts {
			break
		}
		delay := time.Second
		if s.Backoff != nil {
			delay = s.Backoff.NextDelay(attempt)
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return TokenGrant{}, waitErr
		}
	}
	return TokenGrant{}, lastErr
}

func (s *ExchangeService) requestOnce(ctx context.Context, provider Provider, form TokenRequestForm) (TokenGrant, error) {
	providerID := provider.ID()
	key := RateLimitKey{ProviderID: providerID, BucketKey: "token"}
	if s.RateLimit != nil {
		if err := s.RateLimit.BeforeCall(ctx, key); err != nil {
			return TokenGrant{}, err
		}
	}

	requestCtx := ctx
	cancel := func() {}
	if s.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, s.Timeout)
	}
	defer cancel()

	httpReq, err := provider.TokenRequest(requestCtx, form)
	if err != nil {
		return TokenGrant{}, err
	}

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultExchangeTimeout}
	}
	response, err := client.Do(httpReq)
	if err != nil {
		return TokenGrant{}, &ExchangeError{
			Kind:       ExchangeErrTransient,
			ProviderID: providerID,
			Err:        err,
		}
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return TokenGrant{}, &ExchangeError{
			Kind:       ExchangeErrTransient,
			ProviderID: providerID,
			StatusCode: response.StatusCode,
			Err:        readErr,
		}
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return TokenGrant{}, &ExchangeError{
			Kind:        ExchangeErrContract,
			ProviderID:  providerID,
			StatusCode:  response.StatusCode,
			Description: fmt.Sprintf("token response exceeds %d bytes", maxTokenResponseBodyBytes),
		}
	}

	if s.RateLimit != nil {
		_ = s.RateLimit.AfterCall(ctx, key, ProviderResponseMeta{
			StatusCode: response.StatusCode,
			Headers:    flattenHeaders(response.Header),
		})
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return TokenGrant{}, classifyExchangeFailure(providerID, response.StatusCode, payload)
	}
	if parseErr != nil {
		return TokenGrant{}, &ExchangeError{
			Kind:       ExchangeErrContract,
			ProviderID: providerID,
			StatusCode: response.StatusCode,
			Err:        parseErr,
		}
	}
	if payload.ErrorCode != "" {
		return TokenGrant{}, classifyExchangeFailure(providerID, response.StatusCode, payload)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return TokenGrant{}, &ExchangeError{
			Kind:        ExchangeErrContract,
			ProviderID:  providerID,
			StatusCode:  response.StatusCode,
			Description: "token endpoint response missing access token",
		}
	}

	return TokenGrant{
		AccessToken:   strings.TrimSpace(payload.AccessToken),
		RefreshToken:  strings.TrimSpace(payload.RefreshToken),
		TokenType:     normalizeTokenType(payload.TokenType),
		ExpiresIn:     payload.ExpiresIn,
		ScopesGranted: normalizeScopes(parseScopeList(payload.Scope)),
		Raw:           payload.Raw,
	}, nil
}

func classifyExchangeFailure(providerID string, statusCode int, payload tokenEndpointPayload) *ExchangeError {
	code := strings.ToLower(strings.TrimSpace(payload.ErrorCode))
	kind := ExchangeErrTransient
	switch {
	case code == "invalid_grant":
		kind = ExchangeErrInvalidGrant
	case code == "invalid_client" || code == "unauthorized_client":
		kind = ExchangeErrInvalidClient
	case statusCode == http.StatusTooManyRequests:
		kind = ExchangeErrTransient
	case statusCode >= http.StatusInternalServerError:
		kind = ExchangeErrTransient
	case statusCode >= http.StatusBadRequest:
		kind = ExchangeErrContract
	}
	return &ExchangeError{
		Kind:        kind,
		ProviderID:  providerID,
		StatusCode:  statusCode,
		Code:        code,
		Description: strings.TrimSpace(payload.ErrorDescription),
	}
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
	Raw              map[string]any
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
		Raw:              decoded,
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	raw := make(map[string]any, len(values))
	for key := range values {
		raw[key] = values.Get(key)
	}
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
		Raw:              raw,
	}, nil
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func parseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	return values
}

func flattenHeaders(header http.Header) map[string]string {
	if len(header) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(header))
	for key := range header {
		out[key] = header.Get(key)
	}
	return out
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}
