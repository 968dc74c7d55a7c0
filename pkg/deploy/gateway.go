package deploy

import (
	"context"
	"time"

	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/template"
)

// StackObservation is one observation of the remote state machine.
type StackObservation struct {
	State        engine.StackStatus `json:"state"`
	StatusReason string             `json:"status_reason,omitempty"`
}

// FailureEvent is one resource-level failure reported by the remote
// backend for a failed operation.
type FailureEvent struct {
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	Status       string    `json:"status"`
	StatusReason string    `json:"status_reason"`
	Timestamp    time.Time `json:"timestamp"`
}

// Gateway is the remote provisioning backend boundary. Implementations
// classify their failures with engine error codes so the orchestrator
// can distinguish a rejected submission from a transport fault.
type Gateway interface {
	// Submit sends a template to the backend for the target and returns
	// the remote operation id. A submission the backend refuses before
	// changing any remote state fails with ErrCodeValidation,
	// ErrCodeConflict, or ErrCodeRateLimited.
	Submit(ctx context.Context, target string, tpl *template.Template) (string, error)

	// PollStatus reports the current remote stack state for the target.
	PollStatus(ctx context.Context, target string) (*StackObservation, error)

	// ListFailureEvents returns up to limit resource failure events for
	// the target, newest first.
	ListFailureEvents(ctx context.Context, target string, limit int) ([]FailureEvent, error)

	// Exists reports whether a stack exists for the target.
	Exists(ctx context.Context, target string) (bool, error)
}
