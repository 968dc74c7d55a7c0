package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stackmend/stackmend/pkg/engine"
)

// shortFormTags maps YAML short-form intrinsic tags to their long-form
// function names. GetAtt is handled separately because its scalar form
// splits on the first dot.
var shortFormTags = map[string]string{
	"!Ref":         "Ref",
	"!Sub":         "Fn::Sub",
	"!Join":        "Fn::Join",
	"!Select":      "Fn::Select",
	"!Split":       "Fn::Split",
	"!Base64":      "Fn::Base64",
	"!Cidr":        "Fn::Cidr",
	"!If":          "Fn::If",
	"!Equals":      "Fn::Equals",
	"!Not":         "Fn::Not",
	"!And":         "Fn::And",
	"!Or":          "Fn::Or",
	"!FindInMap":   "Fn::FindInMap",
	"!ImportValue": "Fn::ImportValue",
	"!Condition":   "Condition",
}

// Parse parses template content into a Template. JSON is tried first,
// then YAML with short-form intrinsic tag support. A template that cannot
// be parsed by either strategy fails with a PARSE_ERROR.
func Parse(content []byte) (*Template, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, engine.NewPermanentError("template content is empty", nil).
			WithCode(engine.ErrCodeParse)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(content, &raw); err == nil {
		return decodeDocument(raw)
	}

	raw, err := parseYAML(content)
	if err != nil {
		return nil, engine.NewPermanentError("template is neither valid JSON nor valid YAML", err).
			WithCode(engine.ErrCodeParse)
	}
	return decodeDocument(raw)
}

// parseYAML decodes YAML content into the generic map form, converting
// short-form intrinsic tags (!Ref, !GetAtt, ...) to their long forms.
func parseYAML(content []byte) (map[string]interface{}, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("empty YAML document")
	}
	native, err := nodeToNative(root.Content[0])
	if err != nil {
		return nil, err
	}
	doc, ok := native.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("template root is not a mapping")
	}
	return doc, nil
}

// nodeToNative converts a YAML node tree to the generic JSON form.
func nodeToNative(node *yaml.Node) (interface{}, error) {
	if fn, isShort := intrinsicFunction(node.Tag); isShort {
		return intrinsicToNative(fn, node)
	}

	switch node.Kind {
	case yaml.ScalarNode:
		var v interface{}
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	case yaml.SequenceNode:
		out := make([]interface{}, 0, len(node.Content))
		for _, child := range node.Content {
			v, err := nodeToNative(child)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]interface{}, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			v, err := nodeToNative(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	case yaml.AliasNode:
		return nodeToNative(node.Alias)
	default:
		return nil, fmt.Errorf("unsupported YAML node kind %d", node.Kind)
	}
}

// intrinsicFunction resolves a short-form tag to its long-form name.
func intrinsicFunction(tag string) (string, bool) {
	if tag == "!GetAtt" {
		return "Fn::GetAtt", true
	}
	fn, ok := shortFormTags[tag]
	return fn, ok
}

// intrinsicToNative converts a short-form tagged node to the long-form
// {"Fn::X": args} map.
func intrinsicToNative(fn string, node *yaml.Node) (interface{}, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if fn == "Fn::GetAtt" {
			// !GetAtt Resource.Attribute
			parts := strings.SplitN(node.Value, ".", 2)
			if len(parts) == 2 {
				return map[string]interface{}{fn: []interface{}{parts[0], parts[1]}}, nil
			}
			return map[string]interface{}{fn: []interface{}{node.Value}}, nil
		}
		return map[string]interface{}{fn: node.Value}, nil
	case yaml.SequenceNode, yaml.MappingNode:
		// Strip the tag and decode the underlying structure.
		inner := *node
		inner.Tag = ""
		v, err := nodeToNative(&inner)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{fn: v}, nil
	default:
		return nil, fmt.Errorf("unsupported node for intrinsic %s", fn)
	}
}

// decodeDocument converts the generic document map into a Template.
func decodeDocument(doc map[string]interface{}) (*Template, error) {
	tpl := New()

	if v, ok := doc["AWSTemplateFormatVersion"].(string); ok {
		tpl.FormatVersion = v
	}
	if v, ok := doc["Description"].(string); ok {
		tpl.Description = v
	}

	if params, ok := doc["Parameters"].(map[string]interface{}); ok {
		for name, spec := range params {
			tpl.Parameters[name] = DecodeValue(spec)
		}
	}
	if conds, ok := doc["Conditions"].(map[string]interface{}); ok {
		for name, expr := range conds {
			tpl.Conditions[name] = DecodeValue(expr)
		}
	}
	if outs, ok := doc["Outputs"].(map[string]interface{}); ok {
		for name, spec := range outs {
			tpl.Outputs[name] = DecodeValue(spec)
		}
	}

	resources, ok := doc["Resources"].(map[string]interface{})
	if !ok {
		// A template with no Resources section parses; the analyzer
		// reports the missing section as an issue.
		return tpl, nil
	}
	for name, raw := range resources {
		def, ok := raw.(map[string]interface{})
		if !ok {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("resource %s is not a mapping", name), nil).
				WithCode(engine.ErrCodeParse).WithResource(name)
		}
		res, err := decodeResource(name, def)
		if err != nil {
			return nil, err
		}
		tpl.Resources[name] = res
	}
	return tpl, nil
}

func decodeResource(name string, def map[string]interface{}) (*Resource, error) {
	res := &Resource{LogicalID: name}

	if t, ok := def["Type"].(string); ok {
		res.Type = t
	}
	if props, ok := def["Properties"].(map[string]interface{}); ok {
		m := make(Map, len(props))
		for k, v := range props {
			m[k] = DecodeValue(v)
		}
		res.Properties = m
	}
	if meta, ok := def["Metadata"].(map[string]interface{}); ok {
		m := make(Map, len(meta))
		for k, v := range meta {
			m[k] = DecodeValue(v)
		}
		res.Metadata = m
	}
	if cond, ok := def["Condition"].(string); ok {
		res.Condition = cond
	}
	if pol, ok := def["DeletionPolicy"].(string); ok {
		res.DeletionPolicy = pol
	}

	switch dep := def["DependsOn"].(type) {
	case string:
		res.DependsOn = []string{dep}
	case []interface{}:
		for _, d := range dep {
			s, ok := d.(string)
			if !ok {
				return nil, engine.NewPermanentError(
					fmt.Sprintf("resource %s has non-string DependsOn entry", name), nil).
					WithCode(engine.ErrCodeParse).WithResource(name)
			}
			res.DependsOn = append(res.DependsOn, s)
		}
	case nil:
	default:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("resource %s has invalid DependsOn", name), nil).
			WithCode(engine.ErrCodeParse).WithResource(name)
	}

	return res, nil
}
