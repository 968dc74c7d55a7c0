package stores

import (
	"time"
)

// RunRecord is the persisted form of a deployment run.
type RunRecord struct {
	ID            string     `json:"id"`
	Target        string     `json:"target"`
	Success       bool       `json:"success"`
	State         string     `json:"state"`
	Error         *string    `json:"error,omitempty"`
	Fixes         string     `json:"fixes"`          // JSON array of fixer.Fix
	FinalTemplate *string    `json:"final_template"` // JSON template body
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AttemptRecord is the persisted form of one submit-and-poll cycle.
// Attempts are append-only: (run_id, attempt_number) is the primary key
// and rows are never updated.
type AttemptRecord struct {
	RunID       string     `json:"run_id"`
	Number      int        `json:"attempt_number"`
	OperationID *string    `json:"operation_id,omitempty"`
	Status      string     `json:"status"`
	StackState  *string    `json:"stack_state,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Template    string     `json:"template"` // JSON snapshot as submitted
	Fixes       string     `json:"fixes"`    // JSON array of fixer.Fix
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FailureEventRecord is one resource-level failure reported by the
// gateway for an attempt.
type FailureEventRecord struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"run_id"`
	AttemptNumber int       `json:"attempt_number"`
	ResourceID    string    `json:"resource_id"`
	ResourceType  string    `json:"resource_type"`
	Status        string    `json:"status"`
	StatusReason  string    `json:"status_reason"`
	Timestamp     time.Time `json:"timestamp"`
}
