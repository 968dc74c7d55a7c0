package analyzer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stackmend/stackmend/pkg/analyzer/policy"
	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/graph"
	"github.com/stackmend/stackmend/pkg/template"
)

// Analyzer runs structural checks and policy evaluation over templates.
// It is safe for concurrent use: analysis reads the template and the
// rule tables, neither of which the analyzer mutates.
type Analyzer struct {
	logger   zerolog.Logger
	policies *policy.Engine
}

// New creates an analyzer with the built-in policies loaded.
func New(logger zerolog.Logger) (*Analyzer, error) {
	policies, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	return &Analyzer{
		logger:   logger.With().Str("component", "analyzer").Logger(),
		policies: policies,
	}, nil
}

// LoadPolicies registers additional policies from file or directory paths.
func (a *Analyzer) LoadPolicies(ctx context.Context, paths []string) error {
	return a.policies.LoadPolicies(ctx, paths)
}

// PolicyEngine exposes the underlying policy engine for callers that
// manage policy lifecycle (hot reload, enable/disable).
func (a *Analyzer) PolicyEngine() *policy.Engine {
	return a.policies
}

// Analyze runs every check against the template and returns the issues
// sorted by severity descending, then resource id, then kind. Running
// Analyze twice on the same template yields the same result.
//
// A malformed reference (self-reference or dangling target) is a fatal
// error, not an issue: the template cannot be made structurally sound by
// any automated fix and the run must stop.
func (a *Analyzer) Analyze(ctx context.Context, tpl *template.Template) (*Result, error) {
	result := &Result{ResourceCount: len(tpl.Resources)}

	result.Issues = append(result.Issues, checkStructure(tpl)...)

	g, err := graph.Build(tpl)
	if err != nil {
		return nil, err
	}

	for _, cycle := range g.Cycles() {
		result.Cycles = append(result.Cycles, cycle)
		result.Issues = append(result.Issues, Issue{
			ResourceID:  cycle[0],
			Kind:        IssueCircularDependency,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("circular dependency: %s", graph.FormatCycle(cycle)),
			Remediation: "remove one dependency from the cycle, starting with explicit DependsOn entries",
		})
	}

	result.Issues = append(result.Issues, checkRequiredProperties(tpl)...)
	result.Issues = append(result.Issues, checkCompanions(tpl)...)
	result.Issues = append(result.Issues, checkBestPractices(tpl)...)

	policyIssues, err := a.evaluatePolicies(ctx, tpl)
	if err != nil {
		return nil, err
	}
	result.Issues = append(result.Issues, policyIssues...)

	sortIssues(result.Issues)

	for _, issue := range result.Issues {
		switch issue.Kind {
		case IssueMissingCompanionResource:
			result.MissingComponents = append(result.MissingComponents, issue)
		case IssuePolicyViolation:
			result.PolicyViolations = append(result.PolicyViolations, issue)
		}
	}

	a.logger.Debug().
		Int("resources", result.ResourceCount).
		Int("issues", len(result.Issues)).
		Int("cycles", len(result.Cycles)).
		Msg("Analysis complete")

	return result, nil
}

// evaluatePolicies runs the Rego policy engine over each resource.
func (a *Analyzer) evaluatePolicies(ctx context.Context, tpl *template.Template) ([]Issue, error) {
	var issues []Issue

	for _, name := range tpl.ResourceNames() {
		res := tpl.Resource(name)

		props, _ := res.Properties.Native().(map[string]interface{})
		input := &policy.ResourceInput{
			ID:         name,
			Type:       res.Type,
			Properties: props,
		}

		violations, err := a.policies.EvaluateResource(ctx, input)
		if err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("policy evaluation failed for %s", name), err).
				WithCode(engine.ErrCodeInternal).WithResource(name)
		}

		for _, v := range violations {
			resourceID := v.ResourceID
			if resourceID == "" {
				resourceID = name
			}
			issues = append(issues, Issue{
				ResourceID:  resourceID,
				Kind:        IssuePolicyViolation,
				Severity:    Severity(v.Severity),
				Description: v.Message,
				Remediation: v.Remediation,
			})
		}
	}

	return issues, nil
}
