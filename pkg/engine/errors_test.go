package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       *EngineError
		transient bool
		throttled bool
		conflict  bool
		permanent bool
		retryable bool
	}{
		{
			name:      "transient",
			err:       NewTransientError("connection reset", nil),
			transient: true,
			retryable: true,
		},
		{
			name:      "throttled",
			err:       NewThrottledError("rate exceeded", nil),
			throttled: true,
			retryable: true,
		},
		{
			name:      "conflict",
			err:       NewConflictError("operation in progress", nil),
			conflict:  true,
			retryable: true,
		},
		{
			name:      "permanent",
			err:       NewPermanentError("malformed template", nil),
			permanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if got := IsThrottled(tt.err); got != tt.throttled {
				t.Errorf("IsThrottled = %v, want %v", got, tt.throttled)
			}
			if got := IsConflict(tt.err); got != tt.conflict {
				t.Errorf("IsConflict = %v, want %v", got, tt.conflict)
			}
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v", got, tt.permanent)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestClassificationThroughWrapping(t *testing.T) {
	inner := NewThrottledError("rate exceeded", nil).WithCode(ErrCodeRateLimited)
	wrapped := fmt.Errorf("submit failed: %w", inner)

	if !IsThrottled(wrapped) {
		t.Error("IsThrottled lost through wrapping")
	}
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable lost through wrapping")
	}
	if !HasCode(wrapped, ErrCodeRateLimited) {
		t.Error("HasCode lost through wrapping")
	}
	if HasCode(wrapped, ErrCodeTimeout) {
		t.Error("HasCode matched the wrong code")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error reported retryable")
	}
}

func TestErrorContext(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewTransientError("poll failed", cause).
		WithResource("Queue").
		WithOperation("PollStatus").
		WithCode(ErrCodeGatewayFailed).
		WithDetail("target", "orders-stack")

	msg := err.Error()
	for _, want := range []string{"transient", "poll failed", "resource=Queue", "operation=PollStatus", "socket closed"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	if !errors.Is(err, cause) {
		t.Error("underlying cause not reachable via errors.Is")
	}
	if err.Details["target"] != "orders-stack" {
		t.Errorf("detail = %v", err.Details["target"])
	}
}

func TestErrorIsMatchesClassAndCode(t *testing.T) {
	a := NewPermanentError("a", nil).WithCode(ErrCodeValidation)
	b := NewPermanentError("b", nil).WithCode(ErrCodeValidation)
	c := NewPermanentError("c", nil).WithCode(ErrCodeNotFound)

	if !errors.Is(a, b) {
		t.Error("same class and code did not match")
	}
	if errors.Is(a, c) {
		t.Error("different code matched")
	}
}
