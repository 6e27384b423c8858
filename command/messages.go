package command

import (
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const (
	TypeBeginAuthorization = "integrations.command.authorization.begin"
	TypeHandleCallback     = "integrations.command.callback.handle"
	TypeRefresh            = "integrations.command.refresh"
	TypeCheckHealth        = "integrations.command.health.check"
	TypeRevoke             = "integrations.command.revoke"
)

type BeginAuthorizationMessage struct {
	Request core.BeginAuthorizationRequest
}

func (BeginAuthorizationMessage) Type() string { return TypeBeginAuthorization }

func (m BeginAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.Principal.TenantID) == "" {
		return commandValidationError("principal.tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	if strings.TrimSpace(m.Request.RedirectURI) == "" {
		return commandValidationError("redirect_uri", "redirect uri is required")
	}
	return nil
}

type HandleCallbackMessage struct {
	Request core.HandleCallbackRequest
}

func (HandleCallbackMessage) Type() string { return TypeHandleCallback }

func (m HandleCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state is required")
	}
	// A provider error callback carries no code; both absent is malformed.
	if strings.TrimSpace(m.Request.Code) == "" && strings.TrimSpace(m.Request.ErrorCode) == "" {
		return commandValidationError("code", "authorization code or provider error is required")
	}
	return nil
}

type RefreshMessage struct {
	Request core.RefreshRequest
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	if strings.TrimSpace(m.Request.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	return nil
}

type CheckHealthMessage struct {
	TenantID   string
	ProviderID string
}

func (CheckHealthMessage) Type() string { return TypeCheckHealth }

func (m CheckHealthMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	return nil
}

type RevokeMessage struct {
	TenantID   string
	ProviderID string
	Reason     string
}

func (RevokeMessage) Type() string { return TypeRevoke }

func (m RevokeMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	return nil
}
