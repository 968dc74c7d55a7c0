package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ReferenceKind classifies how one resource refers to another.
type ReferenceKind string

const (
	// ReferenceKindRef is a plain logical-name reference ({"Ref": name}).
	ReferenceKindRef ReferenceKind = "ref"

	// ReferenceKindGetAtt is an attribute reference ({"Fn::GetAtt": [name, attr]}).
	ReferenceKindGetAtt ReferenceKind = "getatt"

	// ReferenceKindSub is a ${name} substitution inside an Fn::Sub string.
	ReferenceKindSub ReferenceKind = "sub"
)

// Reference is one resolved reference found inside a property tree.
type Reference struct {
	// Target is the logical name being referenced.
	Target string `json:"target"`

	// Kind is how the reference is expressed.
	Kind ReferenceKind `json:"kind"`

	// Path is the property path where the reference was found.
	Path string `json:"path"`
}

// pseudoParameters are well-known references that never resolve to a
// resource or parameter and never produce dependency edges.
var pseudoParameters = map[string]bool{
	"AWS::AccountId":        true,
	"AWS::NotificationARNs": true,
	"AWS::NoValue":          true,
	"AWS::Partition":        true,
	"AWS::Region":           true,
	"AWS::StackId":          true,
	"AWS::StackName":        true,
	"AWS::URLSuffix":        true,
}

// IsPseudoReference reports whether name is a well-known pseudo parameter.
func IsPseudoReference(name string) bool {
	return pseudoParameters[name]
}

// Value is a node in a property tree: a scalar, a list, a map, or one of
// the reference forms (Ref, GetAtt, Sub). The concrete types below are the
// only implementations.
type Value interface {
	// Clone returns a deep copy sharing no nodes with the receiver.
	Clone() Value

	// Equal reports structural equality with another value.
	Equal(other Value) bool

	// Native converts the value back to the generic JSON form
	// (map[string]interface{} / []interface{} / scalars).
	Native() interface{}

	isValue()
}

// Scalar is a leaf value: string, bool, int64 or float64.
type Scalar struct {
	V interface{}
}

// List is an ordered sequence of values.
type List []Value

// Map is a keyed collection of values. Iteration helpers are sorted by key
// so that serialization and diffing are deterministic.
type Map map[string]Value

// Ref is a logical-name reference.
type Ref struct {
	Target string
}

// GetAtt is an attribute reference to another resource.
type GetAtt struct {
	Target    string
	Attribute string
}

// Sub is an Fn::Sub string substitution with optional named variables.
type Sub struct {
	Template string
	Vars     Map
}

func (Scalar) isValue() {}
func (List) isValue()   {}
func (Map) isValue()    {}
func (Ref) isValue()    {}
func (GetAtt) isValue() {}
func (Sub) isValue()    {}

// String returns a short representation for log and error messages.
func (s Scalar) String() string { return fmt.Sprintf("%v", s.V) }

// Clone implements Value.
func (s Scalar) Clone() Value { return Scalar{V: s.V} }

// Clone implements Value.
func (l List) Clone() Value {
	out := make(List, len(l))
	for i, v := range l {
		out[i] = v.Clone()
	}
	return out
}

// Clone implements Value.
func (m Map) Clone() Value {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Clone implements Value.
func (r Ref) Clone() Value { return Ref{Target: r.Target} }

// Clone implements Value.
func (g GetAtt) Clone() Value { return GetAtt{Target: g.Target, Attribute: g.Attribute} }

// Clone implements Value.
func (s Sub) Clone() Value {
	c := Sub{Template: s.Template}
	if s.Vars != nil {
		c.Vars = s.Vars.Clone().(Map)
	}
	return c
}

// Equal implements Value.
func (s Scalar) Equal(other Value) bool {
	o, ok := other.(Scalar)
	if !ok {
		return false
	}
	// Numeric scalars may arrive as int64 from YAML and float64 from JSON.
	return fmt.Sprintf("%v", s.V) == fmt.Sprintf("%v", o.V)
}

// Equal implements Value.
func (l List) Equal(other Value) bool {
	o, ok := other.(List)
	if !ok || len(l) != len(o) {
		return false
	}
	for i := range l {
		if !l[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Equal implements Value.
func (m Map) Equal(other Value) bool {
	o, ok := other.(Map)
	if !ok || len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, exists := o[k]
		if !exists || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Equal implements Value.
func (r Ref) Equal(other Value) bool {
	o, ok := other.(Ref)
	return ok && r.Target == o.Target
}

// Equal implements Value.
func (g GetAtt) Equal(other Value) bool {
	o, ok := other.(GetAtt)
	return ok && g.Target == o.Target && g.Attribute == o.Attribute
}

// Equal implements Value.
func (s Sub) Equal(other Value) bool {
	o, ok := other.(Sub)
	if !ok || s.Template != o.Template {
		return false
	}
	if s.Vars == nil && o.Vars == nil {
		return true
	}
	if s.Vars == nil || o.Vars == nil {
		return false
	}
	return s.Vars.Equal(o.Vars)
}

// Native implements Value.
func (s Scalar) Native() interface{} { return s.V }

// Native implements Value.
func (l List) Native() interface{} {
	out := make([]interface{}, len(l))
	for i, v := range l {
		out[i] = v.Native()
	}
	return out
}

// Native implements Value.
func (m Map) Native() interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v.Native()
	}
	return out
}

// Native implements Value.
func (r Ref) Native() interface{} {
	return map[string]interface{}{"Ref": r.Target}
}

// Native implements Value.
func (g GetAtt) Native() interface{} {
	return map[string]interface{}{"Fn::GetAtt": []interface{}{g.Target, g.Attribute}}
}

// Native implements Value.
func (s Sub) Native() interface{} {
	if len(s.Vars) == 0 {
		return map[string]interface{}{"Fn::Sub": s.Template}
	}
	return map[string]interface{}{"Fn::Sub": []interface{}{s.Template, s.Vars.Native()}}
}

// Keys returns the map keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// subVarPattern matches ${Name} substitutions. ${!literal} escapes and
// ${AWS::...} pseudo parameters are filtered out by the caller.
var subVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// References walks the value tree rooted at v and returns every reference
// found, with property paths rooted at basePath.
func References(v Value, basePath string) []Reference {
	var refs []Reference
	walkReferences(v, basePath, &refs)
	return refs
}

func walkReferences(v Value, path string, out *[]Reference) {
	switch t := v.(type) {
	case Scalar:
		// leaf
	case List:
		for i, item := range t {
			walkReferences(item, fmt.Sprintf("%s[%d]", path, i), out)
		}
	case Map:
		for _, k := range t.Keys() {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			walkReferences(t[k], childPath, out)
		}
	case Ref:
		if !IsPseudoReference(t.Target) {
			*out = append(*out, Reference{Target: t.Target, Kind: ReferenceKindRef, Path: path})
		}
	case GetAtt:
		*out = append(*out, Reference{Target: t.Target, Kind: ReferenceKindGetAtt, Path: path})
	case Sub:
		for _, m := range subVarPattern.FindAllStringSubmatch(t.Template, -1) {
			name := m[1]
			if strings.HasPrefix(name, "!") || IsPseudoReference(name) {
				continue
			}
			// ${Resource.Attribute} counts against the resource.
			if idx := strings.Index(name, "."); idx > 0 {
				name = name[:idx]
			}
			if t.Vars != nil {
				if _, isLocal := t.Vars[name]; isLocal {
					continue
				}
			}
			*out = append(*out, Reference{Target: name, Kind: ReferenceKindSub, Path: path})
		}
		if t.Vars != nil {
			walkReferences(t.Vars, path+".Fn::Sub", out)
		}
	}
}

// DecodeValue converts a generic JSON/YAML decode result into a Value
// tree, normalizing the reference forms into their dedicated variants.
func DecodeValue(raw interface{}) Value {
	switch t := raw.(type) {
	case map[string]interface{}:
		if len(t) == 1 {
			if v, ok := t["Ref"]; ok {
				if s, ok := v.(string); ok {
					return Ref{Target: s}
				}
			}
			if v, ok := t["Fn::GetAtt"]; ok {
				if ga, ok := decodeGetAtt(v); ok {
					return ga
				}
			}
			if v, ok := t["Fn::Sub"]; ok {
				if sub, ok := decodeSub(v); ok {
					return sub
				}
			}
		}
		m := make(Map, len(t))
		for k, v := range t {
			m[k] = DecodeValue(v)
		}
		return m
	case []interface{}:
		l := make(List, len(t))
		for i, v := range t {
			l[i] = DecodeValue(v)
		}
		return l
	case nil:
		return Scalar{V: nil}
	default:
		return Scalar{V: t}
	}
}

func decodeGetAtt(raw interface{}) (GetAtt, bool) {
	switch t := raw.(type) {
	case string:
		parts := strings.SplitN(t, ".", 2)
		if len(parts) == 2 {
			return GetAtt{Target: parts[0], Attribute: parts[1]}, true
		}
		return GetAtt{Target: t}, true
	case []interface{}:
		if len(t) >= 2 {
			target, ok1 := t[0].(string)
			attr, ok2 := t[1].(string)
			if ok1 && ok2 {
				return GetAtt{Target: target, Attribute: attr}, true
			}
		}
		if len(t) == 1 {
			if target, ok := t[0].(string); ok {
				return GetAtt{Target: target}, true
			}
		}
	}
	return GetAtt{}, false
}

func decodeSub(raw interface{}) (Sub, bool) {
	switch t := raw.(type) {
	case string:
		return Sub{Template: t}, true
	case []interface{}:
		if len(t) == 2 {
			tmpl, ok := t[0].(string)
			if !ok {
				return Sub{}, false
			}
			vars, ok := t[1].(map[string]interface{})
			if !ok {
				return Sub{}, false
			}
			m := make(Map, len(vars))
			for k, v := range vars {
				m[k] = DecodeValue(v)
			}
			return Sub{Template: tmpl, Vars: m}, true
		}
	}
	return Sub{}, false
}
