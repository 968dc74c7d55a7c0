package engine

import "testing"

func TestStackStatusTerminality(t *testing.T) {
	tests := []struct {
		status   StackStatus
		terminal bool
		success  bool
		progress bool
	}{
		{StackStatusNotExists, false, false, false},
		{StackStatusCreateInProgress, false, false, true},
		{StackStatusCreateComplete, true, true, false},
		{StackStatusCreateFailed, true, false, false},
		{StackStatusUpdateInProgress, false, false, true},
		{StackStatusUpdateComplete, true, true, false},
		{StackStatusUpdateFailed, true, false, false},
		{StackStatusDeleteComplete, true, true, false},
		{StackStatusRollbackInProgress, false, false, true},
		{StackStatusRollbackComplete, true, false, false},
		{StackStatusRollbackFailed, true, false, false},
		{StackStatusUpdateRollbackComplete, true, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.IsSuccess(); got != tt.success {
				t.Errorf("IsSuccess = %v, want %v", got, tt.success)
			}
			if got := tt.status.IsInProgress(); got != tt.progress {
				t.Errorf("IsInProgress = %v, want %v", got, tt.progress)
			}
		})
	}
}

func TestStackStatusRollbackIsNotSuccess(t *testing.T) {
	// A completed rollback means the deployment failed even though the
	// remote operation finished cleanly.
	for _, s := range []StackStatus{StackStatusRollbackComplete, StackStatusUpdateRollbackComplete} {
		if !s.IsTerminal() {
			t.Errorf("%s not terminal", s)
		}
		if s.IsSuccess() {
			t.Errorf("%s reported as success", s)
		}
	}
}

func TestRunStateTerminality(t *testing.T) {
	terminal := map[RunState]bool{
		RunStateAnalyzing:       false,
		RunStateFixing:          false,
		RunStateSubmitting:      false,
		RunStatePolling:         false,
		RunStateSucceeded:       true,
		RunStateFailedRetryable: false,
		RunStateFailedTerminal:  true,
		RunStateCancelled:       true,
	}
	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal = %v, want %v", state, got, want)
		}
	}
}

func TestAttemptStatusValidate(t *testing.T) {
	for _, s := range []AttemptStatus{
		AttemptStatusSucceeded, AttemptStatusFailed, AttemptStatusTimeout,
		AttemptStatusRejected, AttemptStatusCancelled,
	} {
		if err := s.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v", s, err)
		}
	}
	if err := AttemptStatus("MAYBE").Validate(); err == nil {
		t.Error("unknown attempt status passed validation")
	}
}

func TestStackStatusValidate(t *testing.T) {
	if err := StackStatusCreateComplete.Validate(); err != nil {
		t.Errorf("Validate(CREATE_COMPLETE) = %v", err)
	}
	if err := StackStatusNotExists.Validate(); err != nil {
		t.Errorf("Validate(NOT_EXISTS) = %v", err)
	}
	if err := StackStatus("BANANAS").Validate(); err == nil {
		t.Error("unknown status passed validation")
	}
}
