package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai").
		WithRetryAfter(2 * time.Second)

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
	assert.Equal(t, 2*time.Second, err.RetryAfter)
}

func TestHelpers_SeeThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrRateLimited, "slow down").WithRetryable(true)
	wrapped := fmt.Errorf("call failed: %w", inner)

	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrRateLimited, GetErrorCode(wrapped))
	got, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, got)
}

func TestIsCancellation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, true},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), true},
		{"cancellation error", NewCancellationError(context.Canceled), true},
		{"cancellation nil cause", NewCancellationError(nil), true},
		{"decode", NewDecodeError("bad", nil), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCancellation(tt.err))
		})
	}
}

func TestConstructors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrQueueClosed, NewQueueClosedError().Code)
	assert.Equal(t, ErrDecode, NewDecodeError("x", nil).Code)
	assert.Equal(t, ErrValidation, NewValidationError("x", nil).Code)
	assert.False(t, IsRetryable(NewValidationError("x", nil)))
	assert.ErrorIs(t, NewCancellationError(nil), context.Canceled)
}
