package application

import (
	"errors"
	"fmt"
	"testing"
)

func TestInvalidRequestError_Error(t *testing.T) {
	t.Parallel()

	var err *InvalidRequestError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &InvalidRequestError{}
	if got := empty.Error(); got != "invalid request" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &InvalidRequestError{FieldErrors: map[string]string{"pageSize": "too large", "guid": "is required"}}
	if got := withFields.Error(); got != "invalid request: guid is required; pageSize too large" {
		t.Fatalf("expected sorted field message, got %q", got)
	}
}

func TestInvalidRequestError_HasErrors(t *testing.T) {
	t.Parallel()

	if (&InvalidRequestError{}).HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	if !invalidRequest("field", "bad").HasErrors() {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestInvalidRequestError_Wrapped(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("context: %w", invalidRequest("pageSize", "bad"))
	var vErr *InvalidRequestError
	if !errors.As(wrapped, &vErr) || vErr.FieldErrors["pageSize"] != "bad" {
		t.Fatalf("expected errors.As to find InvalidRequestError, got %v", wrapped)
	}
}
