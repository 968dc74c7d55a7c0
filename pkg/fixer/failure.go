package fixer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stackmend/stackmend/pkg/analyzer"
	"github.com/stackmend/stackmend/pkg/template"
)

// failurePattern maps substrings of a remote failure reason to one
// targeted fix. Matching is heuristic and best effort: the table is
// checked in order and the first matching entry wins. An entry with a
// nil apply function marks an operational failure no template mutation
// can address.
type failurePattern struct {
	name     string
	patterns []string
	apply    func(tpl *template.Template, resourceID string) (*outcome, error)
}

var failureTable = []failurePattern{
	{
		name:     "rename-with-suffix",
		patterns: []string{"already exists"},
		apply:    renameWithSuffix,
	},
	{
		name:     "attach-minimal-policy",
		patterns: []string{"access denied", "permission", "not authorized"},
		apply:    attachMinimalPolicy,
	},
	{
		name:     "fill-required-defaults",
		patterns: []string{"invalid", "validation"},
		apply:    fillRequiredDefaults,
	},
	{
		// Quota and throttling failures resolve outside the template.
		name:     "operational",
		patterns: []string{"limit exceeded", "throttl"},
		apply:    nil,
	},
}

// FixForFailure derives a targeted fix from a remote failure reason.
// When no pattern matches, or the matched pattern has no template-level
// remedy, the result has an empty Applied list. That is an expected
// outcome, not an error: it tells the orchestrator there is nothing to
// retry with.
func (f *Fixer) FixForFailure(ctx context.Context, tpl *template.Template, failureReason, resourceID string) (*FixResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reason := strings.ToLower(failureReason)
	result := &FixResult{FixedTemplate: tpl}

	for _, entry := range failureTable {
		if !matchesAny(reason, entry.patterns) {
			continue
		}
		if entry.apply == nil {
			f.logger.Info().
				Str("resource", resourceID).
				Str("pattern", entry.name).
				Msg("Failure is operational, no template fix")
			return result, nil
		}

		working := tpl.Clone()
		out, err := entry.apply(working, resourceID)
		if errors.Is(err, errNoRemediation) || (err == nil && out == nil) {
			return result, nil
		}
		if err != nil {
			return nil, err
		}

		fix, err := f.applyOutcome(working, resourceID, FixDeploymentFailure, out)
		if err != nil {
			return nil, err
		}

		f.logger.Info().
			Str("fix", fix.ID).
			Str("resource", resourceID).
			Str("pattern", entry.name).
			Msg(fix.Description)

		validation, err := f.analyzer.Analyze(ctx, working)
		if err != nil {
			return nil, fmt.Errorf("re-analysis after failure fix failed: %w", err)
		}

		result.FixedTemplate = working
		result.Applied = []Fix{*fix}
		result.Validation = validation
		return result, nil
	}

	f.logger.Info().
		Str("resource", resourceID).
		Msg("No failure pattern matched, no automatic remediation")
	return result, nil
}

func matchesAny(reason string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(reason, p) {
			return true
		}
	}
	return false
}

// renameWithSuffix renames a resource whose remote counterpart already
// exists, picking the first free V-suffixed name. References to the old
// name are rewritten.
func renameWithSuffix(tpl *template.Template, resourceID string) (*outcome, error) {
	if tpl.Resource(resourceID) == nil {
		return nil, errNoRemediation
	}

	newName := ""
	for i := 2; i < 100; i++ {
		candidate := fmt.Sprintf("%sV%d", resourceID, i)
		if tpl.Resource(candidate) == nil {
			newName = candidate
			break
		}
	}
	if newName == "" {
		return nil, errNoRemediation
	}

	return &outcome{
		description: fmt.Sprintf("rename %s to %s to avoid name collision", resourceID, newName),
		before:      template.Scalar{V: resourceID},
		after:       template.Scalar{V: newName},
		confidence:  ConfidenceHigh,
		mutations: []Mutation{{
			Op:         OpRenameResource,
			ResourceID: resourceID,
			NewName:    newName,
		}},
	}, nil
}

// minimalLogPolicyActions is the smallest grant that unblocks the common
// "function cannot write logs" permission failure.
var minimalLogPolicyActions = template.List{
	template.Scalar{V: "logs:CreateLogGroup"},
	template.Scalar{V: "logs:CreateLogStream"},
	template.Scalar{V: "logs:PutLogEvents"},
}

// attachMinimalPolicy appends a minimal inline policy to the role that
// governs the failed resource.
func attachMinimalPolicy(tpl *template.Template, resourceID string) (*outcome, error) {
	roleID := findGoverningRole(tpl, resourceID)
	if roleID == "" {
		return nil, errNoRemediation
	}
	role := tpl.Resource(roleID)

	policyName := resourceID + "AccessPolicy"

	var policies template.List
	if raw, ok := role.GetProperty("Policies"); ok {
		if l, ok := raw.(template.List); ok {
			policies = l.Clone().(template.List)
		}
	}
	for _, p := range policies {
		m, ok := p.(template.Map)
		if !ok {
			continue
		}
		if name, ok := m["PolicyName"].(template.Scalar); ok && name.V == policyName {
			// Applied already on a previous attempt.
			return nil, nil
		}
	}

	policies = append(policies, template.Map{
		"PolicyName": template.Scalar{V: policyName},
		"PolicyDocument": template.Map{
			"Version": template.Scalar{V: "2012-10-17"},
			"Statement": template.List{
				template.Map{
					"Effect":   template.Scalar{V: "Allow"},
					"Action":   minimalLogPolicyActions.Clone(),
					"Resource": template.Scalar{V: "*"},
				},
			},
		},
	})

	return &outcome{
		description: fmt.Sprintf("attach minimal policy %s to role %s", policyName, roleID),
		after:       policies,
		confidence:  ConfidenceMedium,
		reversible:  true,
		mutations: []Mutation{{
			Op:         OpSetProperty,
			ResourceID: roleID,
			Path:       "Policies",
			Value:      policies,
		}},
	}, nil
}

// findGoverningRole resolves the role a permission failure points at:
// the resource itself when it is a role, the role its Role property
// references, or failing both, the template's first role.
func findGoverningRole(tpl *template.Template, resourceID string) string {
	res := tpl.Resource(resourceID)
	if res != nil {
		if res.Type == "AWS::IAM::Role" {
			return resourceID
		}
		if raw, ok := res.GetProperty("Role"); ok {
			switch v := raw.(type) {
			case template.GetAtt:
				if tpl.Resource(v.Target) != nil {
					return v.Target
				}
			case template.Ref:
				if tpl.Resource(v.Target) != nil {
					return v.Target
				}
			}
		}
	}

	roles := tpl.ResourcesOfType("AWS::IAM::Role")
	if len(roles) > 0 {
		return roles[0]
	}
	return ""
}

// fillRequiredDefaults sets a default for every missing required
// property on the failed resource.
func fillRequiredDefaults(tpl *template.Template, resourceID string) (*outcome, error) {
	res := tpl.Resource(resourceID)
	if res == nil {
		return nil, errNoRemediation
	}
	required, known := analyzer.RequiredProperties(res.Type)
	if !known {
		return nil, errNoRemediation
	}

	var mutations []Mutation
	var filled []string
	for _, prop := range required {
		if _, ok := res.GetProperty(prop); ok {
			continue
		}
		value, _ := defaultPropertyValue(tpl, res.Type, prop)
		if value == nil {
			continue
		}
		mutations = append(mutations, Mutation{
			Op:         OpSetProperty,
			ResourceID: resourceID,
			Path:       prop,
			Value:      value,
		})
		filled = append(filled, prop)
	}
	if len(mutations) == 0 {
		return nil, errNoRemediation
	}

	return &outcome{
		description: fmt.Sprintf("fill required properties %s on %s", strings.Join(filled, ", "), resourceID),
		confidence:  ConfidenceHigh,
		mutations:   mutations,
	}, nil
}
