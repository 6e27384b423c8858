package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	IntegrationErrorBadInput          = "INTEGRATION_BAD_INPUT"
	IntegrationErrorProviderNotFound  = "INTEGRATION_PROVIDER_NOT_FOUND"
	IntegrationErrorNotFound          = "INTEGRATION_NOT_FOUND"
	IntegrationErrorStateInvalid      = "INTEGRATION_STATE_INVALID"
	IntegrationErrorStateExpired      = "INTEGRATION_STATE_EXPIRED"
	IntegrationErrorStateReplayed     = "INTEGRATION_STATE_REPLAYED"
	IntegrationErrorOwnershipMismatch = "INTEGRATION_OWNERSHIP_MISMATCH"
	IntegrationErrorExchangeFailed    = "INTEGRATION_EXCHANGE_FAILED"
	IntegrationErrorProviderContract  = "INTEGRATION_PROVIDER_CONTRACT"
	IntegrationErrorTokenExpired      = "INTEGRATION_TOKEN_EXPIRED"
	IntegrationErrorTokenRevoked      = "INTEGRATION_TOKEN_REVOKED"
	IntegrationErrorEncryptionFailed  = "INTEGRATION_ENCRYPTION_FAILED"
	IntegrationErrorPersistenceFailed = "INTEGRATION_PERSISTENCE_FAILED"
	IntegrationErrorRefreshLocked     = "INTEGRATION_REFRESH_LOCKED"
	IntegrationErrorRateLimited       = "INTEGRATION_RATE_LIMITED"
	IntegrationErrorInternal          = "INTEGRATION_INTERNAL_ERROR"
)

func integrationErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIntegrationErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return newIntegrationError(err.Error(), goerrors.CategoryNotFound, IntegrationErrorProviderNotFound)
	case strings.Contains(msg, "integration not found"):
		return newIntegrationError(err.Error(), goerrors.CategoryNotFound, IntegrationErrorNotFound)
	case strings.Contains(msg, "state token replayed"):
		return newIntegrationError(err.Error(), goerrors.CategoryConflict, IntegrationErrorStateReplayed)
	case strings.Contains(msg, "state token expired"):
		return newIntegrationError(err.Error(), goerrors.CategoryAuth, IntegrationErrorStateExpired)
	case strings.Contains(msg, "state token"):
		return newIntegrationError(err.Error(), goerrors.CategoryAuth, IntegrationErrorStateInvalid)
	case strings.Contains(msg, "ownership"):
		return newIntegrationError(err.Error(), goerrors.CategoryAuthz, IntegrationErrorOwnershipMismatch)
	case strings.Contains(msg, "invalid_grant"), strings.Contains(msg, "invalid refresh token"):
		return newIntegrationError(err.Error(), goerrors.CategoryAuth, IntegrationErrorTokenRevoked)
	case strings.Contains(msg, "encrypt"), strings.Contains(msg, "decrypt"), strings.Contains(msg, "cipher"):
		return newIntegrationError(err.Error(), goerrors.CategoryInternal, IntegrationErrorEncryptionFailed)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newIntegrationError(err.Error(), goerrors.CategoryConflict, IntegrationErrorRefreshLocked)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newIntegrationError(err.Error(), goerrors.CategoryRateLimit, IntegrationErrorRateLimited)
	case strings.Contains(msg, "exchange"):
		return newIntegrationError(err.Error(), goerrors.CategoryExternal, IntegrationErrorExchangeFailed)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newIntegrationError(err.Error(), goerrors.CategoryBadInput, IntegrationErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIntegrationErrorEnvelope(mapped)
}

func newIntegrationError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureIntegrationErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureIntegrationErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = integrationHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIntegrationTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIntegrationTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return IntegrationErrorBadInput
	case goerrors.CategoryNotFound:
		return IntegrationErrorNotFound
	case goerrors.CategoryAuth:
		return IntegrationErrorStateInvalid
	case goerrors.CategoryAuthz:
		return IntegrationErrorOwnershipMismatch
	case goerrors.CategoryConflict:
		return IntegrationErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return IntegrationErrorRateLimited
	case goerrors.CategoryExternal:
		return IntegrationErrorExchangeFailed
	default:
		return IntegrationErrorInternal
	}
}

func integrationHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
