package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

func TestGetIntegrationMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetIntegrationMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.IntegrationErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.IntegrationErrorBadInput, rich.TextCode)
	}
}

func TestGetIntegrationQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetIntegrationQuery
	_, err := q.Query(context.Background(), GetIntegrationMessage{})
	if err == nil {
		t.Fatalf("expected query dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.IntegrationErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.IntegrationErrorInternal, rich.TextCode)
	}
}
