package fixer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackmend/stackmend/pkg/analyzer"
	"github.com/stackmend/stackmend/pkg/template"
)

// DefaultMaxFixes caps mutations per Fix call when the caller does not
// set a budget.
const DefaultMaxFixes = 20

// Options controls one fix pass.
type Options struct {
	// AutoApply permits strategies below HIGH confidence. When false,
	// only HIGH-confidence fixes are applied and the rest are skipped
	// with reason "manual confirmation required".
	AutoApply bool

	// MaxFixes caps how many fixes one pass may apply. Zero or negative
	// means DefaultMaxFixes.
	MaxFixes int
}

// SkippedIssue pairs an unprocessed issue with the reason it was not
// fixed. Issues are never silently dropped.
type SkippedIssue struct {
	Issue  analyzer.Issue `json:"issue"`
	Reason string         `json:"reason"`
}

// FixResult is the outcome of one fix pass.
type FixResult struct {
	// FixedTemplate is the mutated template. The input template is
	// never modified.
	FixedTemplate *template.Template `json:"-"`

	// Applied lists the fixes in application order.
	Applied []Fix `json:"applied"`

	// Skipped lists every issue that was not fixed, with a reason.
	Skipped []SkippedIssue `json:"skipped"`

	// Validation is a fresh analysis of FixedTemplate. Callers must
	// trust this re-analysis, not the Applied list, as proof that
	// issues are gone.
	Validation *analyzer.Result `json:"validation,omitempty"`
}

// Fixer applies corrective mutations selected from the strategy table.
type Fixer struct {
	logger   zerolog.Logger
	analyzer *analyzer.Analyzer
}

// New creates a fixer that validates its output with the given analyzer.
func New(logger zerolog.Logger, a *analyzer.Analyzer) *Fixer {
	return &Fixer{
		logger:   logger.With().Str("component", "fixer").Logger(),
		analyzer: a,
	}
}

// Fix processes issues in the order given (the analyzer's priority
// order), applying at most opts.MaxFixes mutations. The input template
// is cloned, never modified. The result always carries a re-analysis of
// the fixed template.
func (f *Fixer) Fix(ctx context.Context, tpl *template.Template, issues []analyzer.Issue, opts Options) (*FixResult, error) {
	maxFixes := opts.MaxFixes
	if maxFixes <= 0 {
		maxFixes = DefaultMaxFixes
	}

	working := tpl.Clone()
	result := &FixResult{}

	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(result.Applied) >= maxFixes {
			result.Skipped = append(result.Skipped, SkippedIssue{Issue: issue, Reason: "fix budget exhausted"})
			continue
		}

		strat, known := strategyTable[issue.Kind]
		if !known {
			result.Skipped = append(result.Skipped, SkippedIssue{
				Issue:  issue,
				Reason: fmt.Sprintf("no strategy for issue kind %q", issue.Kind),
			})
			continue
		}

		out, err := strat.apply(working, issue)
		switch {
		case errors.Is(err, errNoRemediation):
			result.Skipped = append(result.Skipped, SkippedIssue{Issue: issue, Reason: "no automatic remediation available"})
			continue
		case err != nil:
			result.Skipped = append(result.Skipped, SkippedIssue{
				Issue:  issue,
				Reason: fmt.Sprintf("strategy failed: %v", err),
			})
			continue
		case out == nil:
			result.Skipped = append(result.Skipped, SkippedIssue{Issue: issue, Reason: "already satisfied"})
			continue
		}

		if !opts.AutoApply && out.confidence != ConfidenceHigh {
			result.Skipped = append(result.Skipped, SkippedIssue{Issue: issue, Reason: "manual confirmation required"})
			continue
		}

		fix, err := f.applyOutcome(working, issue.ResourceID, strat.kind, out)
		if err != nil {
			return nil, err
		}
		result.Applied = append(result.Applied, *fix)

		f.logger.Info().
			Str("fix", fix.ID).
			Str("resource", fix.ResourceID).
			Str("kind", string(fix.Kind)).
			Str("confidence", string(fix.Confidence)).
			Msg(fix.Description)
	}

	validation, err := f.analyzer.Analyze(ctx, working)
	if err != nil {
		return nil, fmt.Errorf("re-analysis after fixes failed: %w", err)
	}

	result.FixedTemplate = working
	result.Validation = validation
	return result, nil
}

// applyOutcome performs an outcome's mutations on the working template
// and records the Fix.
func (f *Fixer) applyOutcome(working *template.Template, resourceID string, kind FixKind, out *outcome) (*Fix, error) {
	for _, m := range out.mutations {
		if err := m.apply(working); err != nil {
			return nil, err
		}
	}

	return &Fix{
		ID:          newFixID(),
		ResourceID:  resourceID,
		Kind:        kind,
		Description: out.description,
		Before:      out.before,
		After:       out.after,
		Confidence:  out.confidence,
		Reversible:  out.reversible,
		Mutations:   out.mutations,
		AppliedAt:   time.Now().UTC(),
	}, nil
}
