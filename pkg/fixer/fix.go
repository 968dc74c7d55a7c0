package fixer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/template"
)

// Confidence grades how certain a fix is to be correct.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// FixKind classifies what a fix corrects. It mirrors the analyzer's
// issue kinds plus a distinct kind for deployment-failure remediation.
type FixKind string

const (
	FixMissingRequiredProperty FixKind = "missing-required-property"
	FixCircularDependency      FixKind = "circular-dependency"
	FixMissingCompanion        FixKind = "missing-companion-resource"
	FixPolicyViolation         FixKind = "policy-violation"
	FixBestPractice            FixKind = "best-practice"
	FixDeploymentFailure       FixKind = "deployment-failure"
)

// MutationOp is the tagged operation of one recorded mutation.
type MutationOp string

const (
	// OpSetProperty sets a dotted property path on a resource.
	OpSetProperty MutationOp = "set-property"

	// OpAddResource inserts a new resource into the template.
	OpAddResource MutationOp = "add-resource"

	// OpRemoveDependsOn removes one entry from a resource's DependsOn list.
	OpRemoveDependsOn MutationOp = "remove-depends-on"

	// OpRenameResource renames a resource and rewrites references to it.
	OpRenameResource MutationOp = "rename-resource"

	// OpSetFormatVersion sets the template format version.
	OpSetFormatVersion MutationOp = "set-format-version"
)

// Mutation is one replayable template edit. The original template plus
// the ordered mutation list of every applied Fix reconstructs the final
// template exactly.
type Mutation struct {
	Op         MutationOp         `json:"op"`
	ResourceID string             `json:"resource_id,omitempty"`
	Path       string             `json:"path,omitempty"`
	Value      template.Value     `json:"value,omitempty"`
	Resource   *template.Resource `json:"resource,omitempty"`
	Target     string             `json:"target,omitempty"`
	NewName    string             `json:"new_name,omitempty"`
}

// apply performs the mutation in place on tpl.
func (m Mutation) apply(tpl *template.Template) error {
	switch m.Op {
	case OpSetProperty:
		res := tpl.Resource(m.ResourceID)
		if res == nil {
			return engine.NewPermanentError(
				fmt.Sprintf("cannot apply mutation: resource %s not found", m.ResourceID), nil,
			).WithCode(engine.ErrCodeNotFound)
		}
		res.SetProperty(m.Path, m.Value.Clone())
		return nil

	case OpAddResource:
		if tpl.Resource(m.Resource.LogicalID) != nil {
			// Replaying onto a template that already has the resource.
			return nil
		}
		return tpl.AddResource(m.Resource.Clone())

	case OpRemoveDependsOn:
		res := tpl.Resource(m.ResourceID)
		if res == nil {
			return engine.NewPermanentError(
				fmt.Sprintf("cannot apply mutation: resource %s not found", m.ResourceID), nil,
			).WithCode(engine.ErrCodeNotFound)
		}
		kept := res.DependsOn[:0]
		for _, dep := range res.DependsOn {
			if dep != m.Target {
				kept = append(kept, dep)
			}
		}
		res.DependsOn = kept
		return nil

	case OpRenameResource:
		if tpl.Resource(m.ResourceID) == nil && tpl.Resource(m.NewName) != nil {
			// Already renamed.
			return nil
		}
		return tpl.RenameResource(m.ResourceID, m.NewName)

	case OpSetFormatVersion:
		if s, ok := m.Value.(template.Scalar); ok {
			tpl.FormatVersion = fmt.Sprintf("%v", s.V)
		}
		return nil

	default:
		return engine.NewPermanentError(
			fmt.Sprintf("unknown mutation op %q", m.Op), nil,
		).WithCode(engine.ErrCodeValidation)
	}
}

// Fix records one applied corrective mutation.
type Fix struct {
	ID          string         `json:"id"`
	ResourceID  string         `json:"resource_id"`
	Kind        FixKind        `json:"kind"`
	Description string         `json:"description"`
	Before      template.Value `json:"before,omitempty"`
	After       template.Value `json:"after,omitempty"`
	Confidence  Confidence     `json:"confidence"`
	Reversible  bool           `json:"reversible"`
	Mutations   []Mutation     `json:"mutations"`
	AppliedAt   time.Time      `json:"applied_at"`
}

// Apply replays the fix's mutations against a template, returning a new
// template. The input is not modified.
func (f *Fix) Apply(tpl *template.Template) (*template.Template, error) {
	out := tpl.Clone()
	for _, m := range f.Mutations {
		if err := m.apply(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Replay applies an ordered fix list to a template, returning the
// reconstructed final template.
func Replay(tpl *template.Template, fixes []Fix) (*template.Template, error) {
	current := tpl
	for i := range fixes {
		next, err := fixes[i].Apply(current)
		if err != nil {
			return nil, fmt.Errorf("replay failed at fix %s: %w", fixes[i].ID, err)
		}
		current = next
	}
	return current, nil
}

func newFixID() string {
	return uuid.NewString()
}
