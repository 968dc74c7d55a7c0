package engine

import "fmt"

// StackStatus represents the remote backend's operation state for a target
// stack. The orchestrator observes these states; it never owns them.
type StackStatus string

const (
	// StackStatusNotExists indicates no stack exists for the target.
	StackStatusNotExists StackStatus = "NOT_EXISTS"

	StackStatusCreateInProgress StackStatus = "CREATE_IN_PROGRESS"
	StackStatusCreateComplete   StackStatus = "CREATE_COMPLETE"
	StackStatusCreateFailed     StackStatus = "CREATE_FAILED"

	StackStatusUpdateInProgress StackStatus = "UPDATE_IN_PROGRESS"
	StackStatusUpdateComplete   StackStatus = "UPDATE_COMPLETE"
	StackStatusUpdateFailed     StackStatus = "UPDATE_FAILED"

	StackStatusDeleteInProgress StackStatus = "DELETE_IN_PROGRESS"
	StackStatusDeleteComplete   StackStatus = "DELETE_COMPLETE"
	StackStatusDeleteFailed     StackStatus = "DELETE_FAILED"

	StackStatusRollbackInProgress StackStatus = "ROLLBACK_IN_PROGRESS"
	StackStatusRollbackComplete   StackStatus = "ROLLBACK_COMPLETE"
	StackStatusRollbackFailed     StackStatus = "ROLLBACK_FAILED"

	StackStatusUpdateRollbackInProgress StackStatus = "UPDATE_ROLLBACK_IN_PROGRESS"
	StackStatusUpdateRollbackComplete   StackStatus = "UPDATE_ROLLBACK_COMPLETE"
	StackStatusUpdateRollbackFailed     StackStatus = "UPDATE_ROLLBACK_FAILED"
)

// IsTerminal returns true if the stack status represents a final state of
// the remote operation. In-progress states (including rollbacks still
// running) are not terminal.
func (s StackStatus) IsTerminal() bool {
	switch s {
	case StackStatusCreateComplete, StackStatusCreateFailed,
		StackStatusUpdateComplete, StackStatusUpdateFailed,
		StackStatusDeleteComplete, StackStatusDeleteFailed,
		StackStatusRollbackComplete, StackStatusRollbackFailed,
		StackStatusUpdateRollbackComplete, StackStatusUpdateRollbackFailed:
		return true
	default:
		return false
	}
}

// IsSuccess returns true for terminal states that represent a converged
// stack. A completed rollback is not a success: the stack is healthy but
// the requested change was not applied.
func (s StackStatus) IsSuccess() bool {
	switch s {
	case StackStatusCreateComplete, StackStatusUpdateComplete, StackStatusDeleteComplete:
		return true
	default:
		return false
	}
}

// IsFailure returns true for terminal states that represent a failed or
// rolled-back operation.
func (s StackStatus) IsFailure() bool {
	return s.IsTerminal() && !s.IsSuccess()
}

// IsInProgress returns true while the remote operation is still running.
func (s StackStatus) IsInProgress() bool {
	switch s {
	case StackStatusCreateInProgress, StackStatusUpdateInProgress,
		StackStatusDeleteInProgress, StackStatusRollbackInProgress,
		StackStatusUpdateRollbackInProgress:
		return true
	default:
		return false
	}
}

// Validate checks if the stack status is a known state.
func (s StackStatus) Validate() error {
	if s == StackStatusNotExists || s.IsTerminal() || s.IsInProgress() {
		return nil
	}
	return fmt.Errorf("invalid stack status: %s", s)
}

// RunState represents the orchestrator's position in one remediation run.
type RunState string

const (
	// RunStateAnalyzing indicates the current template is being analyzed.
	RunStateAnalyzing RunState = "analyzing"

	// RunStateFixing indicates fixes are being applied to the template.
	RunStateFixing RunState = "fixing"

	// RunStateSubmitting indicates the template is being submitted to the gateway.
	RunStateSubmitting RunState = "submitting"

	// RunStatePolling indicates the orchestrator is waiting for a terminal stack state.
	RunStatePolling RunState = "polling"

	// RunStateSucceeded indicates the stack converged.
	RunStateSucceeded RunState = "succeeded"

	// RunStateFailedRetryable indicates the attempt failed but a targeted fix
	// was produced, so another iteration will run.
	RunStateFailedRetryable RunState = "failed_retryable"

	// RunStateFailedTerminal indicates the run stopped without convergence.
	RunStateFailedTerminal RunState = "failed_terminal"

	// RunStateCancelled indicates the caller cancelled the run. Any
	// in-flight remote operation is left untouched.
	RunStateCancelled RunState = "cancelled"
)

// IsTerminal returns true if the run state is final.
func (s RunState) IsTerminal() bool {
	return s == RunStateSucceeded || s == RunStateFailedTerminal || s == RunStateCancelled
}

// AttemptStatus represents the outcome of a single deployment attempt.
type AttemptStatus string

const (
	// AttemptStatusSucceeded indicates the attempt reached a success state.
	AttemptStatusSucceeded AttemptStatus = "SUCCEEDED"

	// AttemptStatusFailed indicates the attempt reached a failure or
	// rollback state.
	AttemptStatusFailed AttemptStatus = "FAILED"

	// AttemptStatusTimeout indicates no terminal state was observed within
	// the per-attempt timeout. The remote operation may still be running.
	AttemptStatusTimeout AttemptStatus = "TIMEOUT"

	// AttemptStatusRejected indicates the gateway refused the submission
	// before any remote state changed.
	AttemptStatusRejected AttemptStatus = "REJECTED"

	// AttemptStatusCancelled indicates the caller cancelled the run while
	// this attempt was in flight.
	AttemptStatusCancelled AttemptStatus = "CANCELLED"
)

// Validate checks if the attempt status is valid.
func (s AttemptStatus) Validate() error {
	switch s {
	case AttemptStatusSucceeded, AttemptStatusFailed, AttemptStatusTimeout,
		AttemptStatusRejected, AttemptStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid attempt status: %s", s)
	}
}
