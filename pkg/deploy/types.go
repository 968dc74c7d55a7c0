package deploy

import (
	"context"
	"time"

	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/fixer"
	"github.com/stackmend/stackmend/pkg/template"
)

// Options configures one orchestration run. Start from DefaultOptions
// and override; the zero value of AutoApplyFixes means "do not apply
// sub-HIGH-confidence fixes", which is rarely what callers want.
type Options struct {
	// Target is the remote stack identity the template deploys to.
	Target string

	// MaxIterations bounds the number of deployment attempts.
	MaxIterations int

	// PerAttemptTimeout bounds polling for one attempt. Expiry is
	// reported as TIMEOUT, distinct from FAILED: the remote operation
	// may still be running.
	PerAttemptTimeout time.Duration

	// SubmitTimeout bounds one submission call to the gateway.
	SubmitTimeout time.Duration

	// PollInterval is the fixed delay between status polls.
	PollInterval time.Duration

	// AutoApplyFixes permits fixes below HIGH confidence during the
	// pre-submission fix pass.
	AutoApplyFixes bool

	// MaxFixesPerPass caps mutations in one fix pass. Zero means the
	// fixer's default.
	MaxFixesPerPass int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions(target string) Options {
	return Options{
		Target:            target,
		MaxIterations:     5,
		PerAttemptTimeout: 30 * time.Minute,
		SubmitTimeout:     2 * time.Minute,
		PollInterval:      5 * time.Second,
		AutoApplyFixes:    true,
	}
}

// normalize fills unset numeric fields with defaults.
func (o *Options) normalize() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 5
	}
	if o.PerAttemptTimeout <= 0 {
		o.PerAttemptTimeout = 30 * time.Minute
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
}

// Attempt is one submit-and-poll cycle. Attempts are append-only:
// numbers are 1-based and strictly increasing within a run, and no
// attempt is ever overwritten or discarded.
type Attempt struct {
	Number int `json:"attempt_number"`

	// Template is the immutable snapshot submitted for this attempt.
	Template *template.Template `json:"-"`

	// OperationID is the remote operation id, empty until the backend
	// accepts the submission.
	OperationID string `json:"operation_id,omitempty"`

	Status     engine.AttemptStatus `json:"status"`
	StackState engine.StackStatus   `json:"stack_state,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	// FixesApplied lists the fixes applied to the template before this
	// attempt's submission.
	FixesApplied []fixer.Fix `json:"fixes_applied"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Result is the caller-facing outcome of one orchestration run.
type Result struct {
	RunID   string          `json:"run_id"`
	Target  string          `json:"target"`
	Success bool            `json:"success"`
	State   engine.RunState `json:"state"`

	Attempts []Attempt `json:"attempts"`

	// FinalTemplate is the template used in the last attempt, after all
	// fixes.
	FinalTemplate *template.Template `json:"-"`

	// FixesApplied is every fix applied during the run, in order.
	FixesApplied []fixer.Fix `json:"fixes_applied"`

	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// AuditStore persists the run trail. The orchestrator treats persistence
// as best effort: an audit write failure is logged, never fatal to the
// run.
type AuditStore interface {
	SaveRun(ctx context.Context, result *Result) error
	SaveAttempt(ctx context.Context, runID string, attempt *Attempt) error
	SaveFailureEvents(ctx context.Context, runID string, attemptNumber int, events []FailureEvent) error
}
