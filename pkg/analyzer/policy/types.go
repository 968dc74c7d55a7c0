package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityHigh is for violations that should block deployment.
	SeverityHigh Severity = "HIGH"

	// SeverityMedium is for violations that should be reviewed.
	SeverityMedium Severity = "MEDIUM"

	// SeverityLow is for informational findings.
	SeverityLow Severity = "LOW"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was loaded.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation against one resource.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// ResourceID is the logical name of the violating resource.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Input is the evaluation input for one resource.
type Input struct {
	// Resource carries the resource under evaluation.
	Resource *ResourceInput `json:"resource"`
}

// ResourceInput is the generic resource shape passed to Rego.
type ResourceInput struct {
	// ID is the resource's logical name.
	ID string `json:"id"`

	// Type is the provider-qualified resource type.
	Type string `json:"type"`

	// Properties is the property tree in generic JSON form.
	Properties map[string]interface{} `json:"properties"`
}
