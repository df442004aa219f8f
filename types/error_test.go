package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "engine failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedCodeLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrAgentNotFound, "agent student_1 not found")
	wrapped := fmt.Errorf("dispatch: %w", inner)

	if got := GetErrorCode(wrapped); got != ErrAgentNotFound {
		t.Fatalf("expected %s through wrap, got %s", ErrAgentNotFound, got)
	}
	if IsRetryable(wrapped) {
		t.Fatalf("expected not retryable")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}
