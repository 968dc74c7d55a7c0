package fixer

import (
	"errors"
	"fmt"

	"github.com/stackmend/stackmend/pkg/analyzer"
	"github.com/stackmend/stackmend/pkg/graph"
	"github.com/stackmend/stackmend/pkg/template"
)

// errNoRemediation signals that no automatic fix exists for an issue.
// It is an expected outcome, reported as a skip, never a run failure.
var errNoRemediation = errors.New("no automatic remediation available")

// outcome is what a strategy produces when it has work to do. A nil
// outcome with a nil error means the template already satisfies the
// strategy, which is how idempotence surfaces on a second application.
type outcome struct {
	description string
	before      template.Value
	after       template.Value
	confidence  Confidence
	reversible  bool
	mutations   []Mutation
}

// strategy maps one issue kind to one corrective mutation.
type strategy struct {
	kind  FixKind
	apply func(tpl *template.Template, issue analyzer.Issue) (*outcome, error)
}

// strategyTable keys fix strategies by the issue kind they correct.
// Exactly one strategy per kind; unknown kinds are skipped by the
// engine with a recorded reason.
var strategyTable = map[analyzer.IssueKind]strategy{
	analyzer.IssueMissingRequiredProperty:  {kind: FixMissingRequiredProperty, apply: fixRequiredProperty},
	analyzer.IssueCircularDependency:       {kind: FixCircularDependency, apply: fixCircularDependency},
	analyzer.IssueMissingCompanionResource: {kind: FixMissingCompanion, apply: fixCompanion},
	analyzer.IssuePolicyViolation:          {kind: FixPolicyViolation, apply: fixPolicyViolation},
	analyzer.IssueBestPracticeDeviation:    {kind: FixBestPractice, apply: fixBestPractice},
}

const defaultFormatVersion = "2010-09-09"

// fixRequiredProperty fills a missing required property with a typed
// default when one is known for the resource type.
func fixRequiredProperty(tpl *template.Template, issue analyzer.Issue) (*outcome, error) {
	if issue.Suggestion == nil || issue.Suggestion.Property == "" {
		return nil, errNoRemediation
	}
	prop := issue.Suggestion.Property

	if issue.ResourceID == analyzer.TemplateScope {
		if prop != "AWSTemplateFormatVersion" {
			// A template with no resources cannot be repaired mechanically.
			return nil, errNoRemediation
		}
		if tpl.FormatVersion != "" {
			return nil, nil
		}
		value := template.Scalar{V: defaultFormatVersion}
		return &outcome{
			description: "set template format version to " + defaultFormatVersion,
			after:       value,
			confidence:  ConfidenceHigh,
			reversible:  true,
			mutations:   []Mutation{{Op: OpSetFormatVersion, Value: value}},
		}, nil
	}

	res := tpl.Resource(issue.ResourceID)
	if res == nil {
		return nil, fmt.Errorf("resource %s not found", issue.ResourceID)
	}
	if _, ok := res.GetProperty(prop); ok {
		return nil, nil
	}

	value, confidence := defaultPropertyValue(tpl, res.Type, prop)
	if value == nil {
		return nil, errNoRemediation
	}

	return &outcome{
		description: fmt.Sprintf("set default %s on %s", prop, issue.ResourceID),
		after:       value,
		confidence:  confidence,
		reversible:  true,
		mutations: []Mutation{{
			Op:         OpSetProperty,
			ResourceID: issue.ResourceID,
			Path:       prop,
			Value:      value,
		}},
	}, nil
}

// defaultPropertyValue returns a usable default for a required property,
// or nil when no safe default exists.
func defaultPropertyValue(tpl *template.Template, resType, prop string) (template.Value, Confidence) {
	switch resType + "/" + prop {
	case "AWS::Lambda::Function/Code":
		return template.Map{
			"ZipFile": template.Scalar{V: "exports.handler = async () => ({ statusCode: 200 });"},
		}, ConfidenceMedium

	case "AWS::Lambda::Function/Role":
		// Wire to an existing role when one is present; creating a role
		// is the companion strategy's job.
		roles := tpl.ResourcesOfType("AWS::IAM::Role")
		if len(roles) == 0 {
			return nil, ""
		}
		return template.GetAtt{Target: roles[0], Attribute: "Arn"}, ConfidenceHigh

	case "AWS::IAM::Role/AssumeRolePolicyDocument":
		return lambdaTrustPolicy(), ConfidenceMedium

	case "AWS::DynamoDB::Table/AttributeDefinitions":
		return template.List{
			template.Map{
				"AttributeName": template.Scalar{V: "id"},
				"AttributeType": template.Scalar{V: "S"},
			},
		}, ConfidenceMedium

	case "AWS::DynamoDB::Table/KeySchema":
		return template.List{
			template.Map{
				"AttributeName": template.Scalar{V: "id"},
				"KeyType":       template.Scalar{V: "HASH"},
			},
		}, ConfidenceMedium

	default:
		return nil, ""
	}
}

// lambdaTrustPolicy is the default execution-role trust policy.
func lambdaTrustPolicy() template.Value {
	return template.Map{
		"Version": template.Scalar{V: "2012-10-17"},
		"Statement": template.List{
			template.Map{
				"Effect": template.Scalar{V: "Allow"},
				"Principal": template.Map{
					"Service": template.Scalar{V: "lambda.amazonaws.com"},
				},
				"Action": template.Scalar{V: "sts:AssumeRole"},
			},
		},
	}
}

// fixCircularDependency breaks a cycle by dropping an explicit DependsOn
// back-edge. Reference edges are never dropped: removing a property
// reference would change resource semantics, not just ordering.
func fixCircularDependency(tpl *template.Template, issue analyzer.Issue) (*outcome, error) {
	g, err := graph.Build(tpl)
	if err != nil {
		return nil, err
	}

	var cycle []string
	for _, c := range g.Cycles() {
		for _, node := range c {
			if node == issue.ResourceID {
				cycle = c
				break
			}
		}
		if cycle != nil {
			break
		}
	}
	if cycle == nil {
		// The cycle is already broken.
		return nil, nil
	}

	for i := 0; i < len(cycle)-1; i++ {
		source, target := cycle[i], cycle[i+1]
		res := tpl.Resource(source)
		if res == nil {
			continue
		}
		for _, dep := range res.DependsOn {
			if dep != target {
				continue
			}
			return &outcome{
				description: fmt.Sprintf("remove explicit dependency %s -> %s to break cycle %s",
					source, target, graph.FormatCycle(cycle)),
				before:     template.Scalar{V: target},
				confidence: ConfidenceMedium,
				reversible: true,
				mutations: []Mutation{{
					Op:         OpRemoveDependsOn,
					ResourceID: source,
					Target:     target,
				}},
			}, nil
		}
	}

	// Every edge in the cycle is a property reference.
	return nil, errNoRemediation
}

// fixCompanion materializes the missing companion resource described by
// the issue's suggestion and wires the affected resource to it.
func fixCompanion(tpl *template.Template, issue analyzer.Issue) (*outcome, error) {
	if issue.Suggestion == nil || issue.Suggestion.ResourceType == "" {
		return nil, errNoRemediation
	}
	sug := issue.Suggestion

	switch sug.ResourceType {
	case "AWS::IAM::Role":
		return addExecutionRole(tpl, issue.ResourceID, sug)
	case "AWS::ApiGateway::Method":
		return addAPIMethod(tpl, issue.ResourceID, sug)
	default:
		return nil, errNoRemediation
	}
}

func addExecutionRole(tpl *template.Template, functionID string, sug *analyzer.Suggestion) (*outcome, error) {
	fn := tpl.Resource(functionID)
	if fn == nil {
		return nil, fmt.Errorf("resource %s not found", functionID)
	}

	roleID := sug.LogicalID
	_, hasRole := fn.GetProperty(sug.Property)
	roleExists := tpl.Resource(roleID) != nil
	if hasRole && (roleExists || tpl.HasResourceOfType("AWS::IAM::Role")) {
		return nil, nil
	}

	var mutations []Mutation
	if !roleExists {
		role := &template.Resource{
			LogicalID: roleID,
			Type:      "AWS::IAM::Role",
			Properties: template.Map{
				"AssumeRolePolicyDocument": lambdaTrustPolicy(),
				"ManagedPolicyArns": template.List{
					template.Scalar{V: "arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"},
				},
			},
		}
		mutations = append(mutations, Mutation{Op: OpAddResource, Resource: role})
	}

	after := template.GetAtt{Target: roleID, Attribute: sug.Attribute}
	if !hasRole {
		mutations = append(mutations, Mutation{
			Op:         OpSetProperty,
			ResourceID: functionID,
			Path:       sug.Property,
			Value:      after,
		})
	}

	return &outcome{
		description: fmt.Sprintf("add execution role %s and wire %s.%s to it", roleID, functionID, sug.Property),
		after:       after,
		confidence:  ConfidenceHigh,
		mutations:   mutations,
	}, nil
}

func addAPIMethod(tpl *template.Template, apiID string, sug *analyzer.Suggestion) (*outcome, error) {
	if tpl.HasResourceOfType("AWS::ApiGateway::Method") {
		return nil, nil
	}

	method := &template.Resource{
		LogicalID: sug.LogicalID,
		Type:      "AWS::ApiGateway::Method",
		Properties: template.Map{
			"HttpMethod":        template.Scalar{V: "GET"},
			"AuthorizationType": template.Scalar{V: "NONE"},
			"RestApiId":         template.Ref{Target: apiID},
			"ResourceId":        template.GetAtt{Target: apiID, Attribute: "RootResourceId"},
		},
	}

	return &outcome{
		description: fmt.Sprintf("add method %s for REST API %s", sug.LogicalID, apiID),
		confidence:  ConfidenceMedium,
		mutations:   []Mutation{{Op: OpAddResource, Resource: method}},
	}, nil
}

// defaultTags marks resources this engine manages. MEDIUM confidence:
// the values are sensible but an operator may want their own scheme.
func defaultTags() template.Value {
	return template.List{
		template.Map{
			"Key":   template.Scalar{V: "ManagedBy"},
			"Value": template.Scalar{V: "stackmend"},
		},
	}
}

// fixBestPractice applies the remediations for best-practice findings.
// Tags are the only deviation with a mechanical fix today.
func fixBestPractice(tpl *template.Template, issue analyzer.Issue) (*outcome, error) {
	if issue.Suggestion == nil || issue.Suggestion.Property != "Tags" {
		return nil, errNoRemediation
	}

	res := tpl.Resource(issue.ResourceID)
	if res == nil {
		return nil, fmt.Errorf("resource %s not found", issue.ResourceID)
	}
	if _, ok := res.GetProperty("Tags"); ok {
		return nil, nil
	}

	value := defaultTags()
	return &outcome{
		description: fmt.Sprintf("add default tags to %s", issue.ResourceID),
		after:       value,
		confidence:  ConfidenceMedium,
		reversible:  true,
		mutations: []Mutation{{
			Op:         OpSetProperty,
			ResourceID: issue.ResourceID,
			Path:       "Tags",
			Value:      value,
		}},
	}, nil
}

// fixPolicyViolation corrects the policy violations that have a safe
// mechanical fix. Violations without one (wildcard IAM actions) require
// a human decision and are skipped.
func fixPolicyViolation(tpl *template.Template, issue analyzer.Issue) (*outcome, error) {
	res := tpl.Resource(issue.ResourceID)
	if res == nil {
		return nil, fmt.Errorf("resource %s not found", issue.ResourceID)
	}

	switch res.Type {
	case "AWS::S3::Bucket":
		return addBucketEncryption(res)
	case "AWS::EC2::SecurityGroup":
		return restrictOpenIngress(res)
	default:
		return nil, errNoRemediation
	}
}

func addBucketEncryption(res *template.Resource) (*outcome, error) {
	if _, ok := res.GetProperty("BucketEncryption"); ok {
		return nil, nil
	}

	value := template.Map{
		"ServerSideEncryptionConfiguration": template.List{
			template.Map{
				"ServerSideEncryptionByDefault": template.Map{
					"SSEAlgorithm": template.Scalar{V: "AES256"},
				},
			},
		},
	}

	return &outcome{
		description: fmt.Sprintf("enable server-side encryption on bucket %s", res.LogicalID),
		after:       value,
		confidence:  ConfidenceHigh,
		reversible:  true,
		mutations: []Mutation{{
			Op:         OpSetProperty,
			ResourceID: res.LogicalID,
			Path:       "BucketEncryption",
			Value:      value,
		}},
	}, nil
}

// privateCIDR replaces open ingress ranges. RFC 1918 space is the most
// conservative narrowing that keeps the rule functional for internal
// traffic.
const privateCIDR = "10.0.0.0/8"

func restrictOpenIngress(res *template.Resource) (*outcome, error) {
	raw, ok := res.GetProperty("SecurityGroupIngress")
	if !ok {
		return nil, nil
	}
	rules, ok := raw.(template.List)
	if !ok {
		return nil, nil
	}

	changed := false
	updated := make(template.List, 0, len(rules))
	for _, rule := range rules {
		m, ok := rule.(template.Map)
		if !ok {
			updated = append(updated, rule.Clone())
			continue
		}
		clone := m.Clone().(template.Map)
		if cidr, ok := clone["CidrIp"].(template.Scalar); ok && cidr.V == "0.0.0.0/0" {
			clone["CidrIp"] = template.Scalar{V: privateCIDR}
			changed = true
		}
		if cidr, ok := clone["CidrIpv6"].(template.Scalar); ok && cidr.V == "::/0" {
			delete(clone, "CidrIpv6")
			clone["CidrIp"] = template.Scalar{V: privateCIDR}
			changed = true
		}
		updated = append(updated, clone)
	}
	if !changed {
		return nil, nil
	}

	return &outcome{
		description: fmt.Sprintf("restrict open ingress on %s to %s", res.LogicalID, privateCIDR),
		before:      raw.Clone(),
		after:       updated,
		confidence:  ConfidenceMedium,
		reversible:  true,
		mutations: []Mutation{{
			Op:         OpSetProperty,
			ResourceID: res.LogicalID,
			Path:       "SecurityGroupIngress",
			Value:      updated,
		}},
	}, nil
}
