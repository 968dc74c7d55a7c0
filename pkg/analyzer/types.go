package analyzer

import (
	"sort"
)

// IssueKind classifies a detected template defect.
type IssueKind string

const (
	// IssueMissingRequiredProperty means a resource lacks a property its
	// type requires.
	IssueMissingRequiredProperty IssueKind = "missing-required-property"

	// IssueCircularDependency means the dependency graph contains a cycle.
	IssueCircularDependency IssueKind = "circular-dependency"

	// IssueMissingCompanionResource means a resource needs a supporting
	// resource that is absent from the template.
	IssueMissingCompanionResource IssueKind = "missing-companion-resource"

	// IssuePolicyViolation means a policy rule rejected the resource.
	IssuePolicyViolation IssueKind = "policy-violation"

	// IssueBestPracticeDeviation means the resource works as declared but
	// deviates from a recommended practice, such as missing tags.
	IssueBestPracticeDeviation IssueKind = "best-practice-deviation"

	// IssueDeploymentFailureDerived means the issue was derived from a
	// remote deployment failure event rather than static analysis.
	IssueDeploymentFailureDerived IssueKind = "deployment-failure-derived"
)

// Severity ranks how strongly an issue should block deployment.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// rank orders severities for sorting, highest first.
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

// TemplateScope is the sentinel resource id for issues that concern the
// template as a whole rather than a single resource.
const TemplateScope = "<template>"

// Suggestion is a structured remediation payload attached to an issue,
// consumed by the fix engine when it materializes a companion resource.
type Suggestion struct {
	// ResourceType is the provider-qualified type of the resource to add.
	ResourceType string `json:"resource_type,omitempty"`

	// LogicalID is the proposed logical name for the new resource.
	LogicalID string `json:"logical_id,omitempty"`

	// Property is the property on the affected resource to wire to the
	// new resource, when one applies.
	Property string `json:"property,omitempty"`

	// Attribute names the attribute of the new resource the wired
	// property should reference ("" means a plain Ref).
	Attribute string `json:"attribute,omitempty"`
}

// Issue is one detected defect in a template. Issues are recomputed on
// every analysis pass and never mutated in place.
type Issue struct {
	ResourceID  string      `json:"resource_id"`
	Kind        IssueKind   `json:"kind"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Remediation string      `json:"remediation,omitempty"`
	Suggestion  *Suggestion `json:"suggestion,omitempty"`
}

// Result is the outcome of one analysis pass.
type Result struct {
	// Issues is the full issue list, sorted by severity descending, then
	// resource id, then kind.
	Issues []Issue `json:"issues"`

	// MissingComponents is the subset of Issues with kind
	// missing-companion-resource, in the same order.
	MissingComponents []Issue `json:"missing_components"`

	// PolicyViolations is the subset of Issues with kind
	// policy-violation, in the same order.
	PolicyViolations []Issue `json:"policy_violations"`

	// ResourceCount is the number of resources analyzed.
	ResourceCount int `json:"resource_count"`

	// Cycles holds every dependency cycle found, as full node paths.
	Cycles [][]string `json:"cycles,omitempty"`
}

// HasIssues reports whether any issue was found.
func (r *Result) HasIssues() bool {
	return len(r.Issues) > 0
}

// HasBlocking reports whether any HIGH severity issue was found.
func (r *Result) HasBlocking() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// IssuesFor returns the issues targeting one resource, in result order.
func (r *Result) IssuesFor(resourceID string) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.ResourceID == resourceID {
			out = append(out, issue)
		}
	}
	return out
}

// sortIssues orders issues by severity descending, then resource id, then
// kind. The order is load-bearing: the fix engine processes issues in
// this order and truncation at the fix budget must be reproducible.
func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() < b.Severity.rank()
		}
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		return a.Kind < b.Kind
	})
}
