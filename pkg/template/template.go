package template

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stackmend/stackmend/pkg/engine"
)

// Template is the in-memory representation of a declarative infrastructure
// template. A Template owns its Resources exclusively; mutation helpers
// always operate on the receiver, and pipeline stages that need a private
// copy call Clone first.
type Template struct {
	// FormatVersion is the template format version string.
	FormatVersion string `json:"format_version,omitempty"`

	// Description is the free-text template description.
	Description string `json:"description,omitempty"`

	// Parameters maps parameter name to its spec.
	Parameters map[string]Value `json:"parameters,omitempty"`

	// Resources maps logical name to resource definition.
	Resources map[string]*Resource `json:"resources"`

	// Outputs maps output name to its spec.
	Outputs map[string]Value `json:"outputs,omitempty"`

	// Conditions maps condition name to its expression.
	Conditions map[string]Value `json:"conditions,omitempty"`
}

// Resource is one declared infrastructure entity within a Template.
type Resource struct {
	// LogicalID is the resource's logical name, unique within its Template.
	LogicalID string `json:"logical_id"`

	// Type is the provider-qualified type identifier (e.g. "AWS::S3::Bucket").
	Type string `json:"type"`

	// Properties is the resource property tree.
	Properties Map `json:"properties,omitempty"`

	// DependsOn lists logical names this resource explicitly orders after.
	DependsOn []string `json:"depends_on,omitempty"`

	// Condition names the condition gating this resource, if any.
	Condition string `json:"condition,omitempty"`

	// DeletionPolicy controls what happens to the remote resource on delete.
	DeletionPolicy string `json:"deletion_policy,omitempty"`

	// Metadata is arbitrary per-resource metadata.
	Metadata Map `json:"metadata,omitempty"`
}

// New returns an empty template with initialized collections.
func New() *Template {
	return &Template{
		Parameters: make(map[string]Value),
		Resources:  make(map[string]*Resource),
		Outputs:    make(map[string]Value),
		Conditions: make(map[string]Value),
	}
}

// ResourceNames returns the logical names of all resources in sorted
// order. Sorted iteration keeps analysis output deterministic.
func (t *Template) ResourceNames() []string {
	names := make([]string, 0, len(t.Resources))
	for name := range t.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resource returns the resource with the given logical name, or nil.
func (t *Template) Resource(name string) *Resource {
	return t.Resources[name]
}

// ResourcesOfType returns the logical names of all resources with the
// given type, in sorted order.
func (t *Template) ResourcesOfType(resourceType string) []string {
	var names []string
	for name, res := range t.Resources {
		if res.Type == resourceType {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HasResourceOfType reports whether any resource has the given type.
func (t *Template) HasResourceOfType(resourceType string) bool {
	for _, res := range t.Resources {
		if res.Type == resourceType {
			return true
		}
	}
	return false
}

// AddResource inserts a resource under its logical name. Inserting over an
// existing name is a conflict.
func (t *Template) AddResource(res *Resource) error {
	if res.LogicalID == "" {
		return engine.NewPermanentError("resource has empty logical name", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if _, exists := t.Resources[res.LogicalID]; exists {
		return engine.NewConflictError(
			fmt.Sprintf("resource %s already defined", res.LogicalID), nil).
			WithCode(engine.ErrCodeAlreadyExists).WithResource(res.LogicalID)
	}
	if t.Resources == nil {
		t.Resources = make(map[string]*Resource)
	}
	t.Resources[res.LogicalID] = res
	return nil
}

// RenameResource changes a resource's logical name and rewrites every
// reference to it across the template.
func (t *Template) RenameResource(oldName, newName string) error {
	res, exists := t.Resources[oldName]
	if !exists {
		return engine.NewPermanentError(
			fmt.Sprintf("resource %s not found", oldName), nil).
			WithCode(engine.ErrCodeNotFound).WithResource(oldName)
	}
	if _, exists := t.Resources[newName]; exists {
		return engine.NewConflictError(
			fmt.Sprintf("resource %s already defined", newName), nil).
			WithCode(engine.ErrCodeAlreadyExists).WithResource(newName)
	}
	delete(t.Resources, oldName)
	res.LogicalID = newName
	t.Resources[newName] = res

	for _, other := range t.Resources {
		for i, dep := range other.DependsOn {
			if dep == oldName {
				other.DependsOn[i] = newName
			}
		}
		if other.Properties != nil {
			other.Properties = rewriteReferences(other.Properties, oldName, newName).(Map)
		}
	}
	for name, out := range t.Outputs {
		t.Outputs[name] = rewriteReferences(out, oldName, newName)
	}
	return nil
}

// rewriteReferences returns a copy of v with every reference to oldName
// pointing at newName.
func rewriteReferences(v Value, oldName, newName string) Value {
	switch t := v.(type) {
	case Scalar:
		return t
	case List:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = rewriteReferences(item, oldName, newName)
		}
		return out
	case Map:
		out := make(Map, len(t))
		for k, item := range t {
			out[k] = rewriteReferences(item, oldName, newName)
		}
		return out
	case Ref:
		if t.Target == oldName {
			return Ref{Target: newName}
		}
		return t
	case GetAtt:
		if t.Target == oldName {
			return GetAtt{Target: newName, Attribute: t.Attribute}
		}
		return t
	case Sub:
		out := Sub{Template: strings.ReplaceAll(t.Template, "${"+oldName, "${"+newName)}
		if t.Vars != nil {
			out.Vars = rewriteReferences(t.Vars, oldName, newName).(Map)
		}
		return out
	default:
		return v
	}
}

// GetProperty resolves a dotted property path on a resource. The second
// return value reports whether the full path exists.
func (r *Resource) GetProperty(path string) (Value, bool) {
	if r.Properties == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current Value = r.Properties
	for _, part := range parts {
		m, ok := current.(Map)
		if !ok {
			return nil, false
		}
		next, exists := m[part]
		if !exists {
			return nil, false
		}
		current = next
	}
	return current, true
}

// SetProperty sets a dotted property path on a resource, creating
// intermediate maps as needed. It returns the previous value at the path,
// if any.
func (r *Resource) SetProperty(path string, value Value) (Value, bool) {
	if r.Properties == nil {
		r.Properties = make(Map)
	}
	parts := strings.Split(path, ".")
	current := r.Properties
	for _, part := range parts[:len(parts)-1] {
		next, exists := current[part]
		m, ok := next.(Map)
		if !exists || !ok {
			m = make(Map)
			current[part] = m
		}
		current = m
	}
	last := parts[len(parts)-1]
	prev, had := current[last]
	current[last] = value
	return prev, had
}

// RemoveProperty deletes a dotted property path. It returns the removed
// value, if the path existed.
func (r *Resource) RemoveProperty(path string) (Value, bool) {
	if r.Properties == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	current := r.Properties
	for _, part := range parts[:len(parts)-1] {
		next, exists := current[part]
		m, ok := next.(Map)
		if !exists || !ok {
			return nil, false
		}
		current = m
	}
	last := parts[len(parts)-1]
	prev, had := current[last]
	if had {
		delete(current, last)
	}
	return prev, had
}

// References returns every reference found in the resource's property
// tree, in deterministic order.
func (r *Resource) References() []Reference {
	if r.Properties == nil {
		return nil
	}
	return References(r.Properties, "Properties")
}

// Clone returns a deep copy of the resource.
func (r *Resource) Clone() *Resource {
	out := &Resource{
		LogicalID:      r.LogicalID,
		Type:           r.Type,
		Condition:      r.Condition,
		DeletionPolicy: r.DeletionPolicy,
	}
	if r.Properties != nil {
		out.Properties = r.Properties.Clone().(Map)
	}
	if r.Metadata != nil {
		out.Metadata = r.Metadata.Clone().(Map)
	}
	if r.DependsOn != nil {
		out.DependsOn = append([]string(nil), r.DependsOn...)
	}
	return out
}

// Clone returns a deep copy of the template. Mutation never shares nodes
// across templates.
func (t *Template) Clone() *Template {
	out := &Template{
		FormatVersion: t.FormatVersion,
		Description:   t.Description,
		Parameters:    make(map[string]Value, len(t.Parameters)),
		Resources:     make(map[string]*Resource, len(t.Resources)),
		Outputs:       make(map[string]Value, len(t.Outputs)),
		Conditions:    make(map[string]Value, len(t.Conditions)),
	}
	for k, v := range t.Parameters {
		out.Parameters[k] = v.Clone()
	}
	for k, r := range t.Resources {
		out.Resources[k] = r.Clone()
	}
	for k, v := range t.Outputs {
		out.Outputs[k] = v.Clone()
	}
	for k, v := range t.Conditions {
		out.Conditions[k] = v.Clone()
	}
	return out
}

// Equal reports structural equality with another template. Used to verify
// the replay invariant: original template plus ordered fix list must
// reconstruct the deployed template exactly.
func (t *Template) Equal(other *Template) bool {
	if other == nil {
		return false
	}
	a, err := t.JSON()
	if err != nil {
		return false
	}
	b, err := other.JSON()
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// JSON serializes the template to canonical JSON (sorted keys) in the
// external document shape, suitable for submission to a provisioning
// backend.
func (t *Template) JSON() ([]byte, error) {
	doc := make(map[string]interface{})
	if t.FormatVersion != "" {
		doc["AWSTemplateFormatVersion"] = t.FormatVersion
	}
	if t.Description != "" {
		doc["Description"] = t.Description
	}
	if len(t.Parameters) > 0 {
		params := make(map[string]interface{}, len(t.Parameters))
		for k, v := range t.Parameters {
			params[k] = v.Native()
		}
		doc["Parameters"] = params
	}
	resources := make(map[string]interface{}, len(t.Resources))
	for name, res := range t.Resources {
		resources[name] = res.native()
	}
	doc["Resources"] = resources
	if len(t.Conditions) > 0 {
		conds := make(map[string]interface{}, len(t.Conditions))
		for k, v := range t.Conditions {
			conds[k] = v.Native()
		}
		doc["Conditions"] = conds
	}
	if len(t.Outputs) > 0 {
		outs := make(map[string]interface{}, len(t.Outputs))
		for k, v := range t.Outputs {
			outs[k] = v.Native()
		}
		doc["Outputs"] = outs
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (r *Resource) native() map[string]interface{} {
	out := map[string]interface{}{"Type": r.Type}
	if len(r.Properties) > 0 {
		out["Properties"] = r.Properties.Native()
	}
	if len(r.DependsOn) > 0 {
		out["DependsOn"] = r.DependsOn
	}
	if r.Condition != "" {
		out["Condition"] = r.Condition
	}
	if r.DeletionPolicy != "" {
		out["DeletionPolicy"] = r.DeletionPolicy
	}
	if len(r.Metadata) > 0 {
		out["Metadata"] = r.Metadata.Native()
	}
	return out
}
