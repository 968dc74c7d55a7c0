package analyzer

import (
	"fmt"

	"github.com/stackmend/stackmend/pkg/template"
)

// requiredProperties maps a resource type to the properties every
// instance of that type must declare. Types not listed have no required
// properties as far as this table is concerned.
var requiredProperties = map[string][]string{
	"AWS::Lambda::Function":   {"Code", "Role"},
	"AWS::EC2::Instance":      {"ImageId"},
	"AWS::IAM::Role":          {"AssumeRolePolicyDocument"},
	"AWS::DynamoDB::Table":    {"AttributeDefinitions", "KeySchema"},
	"AWS::SQS::Queue":         {},
	"AWS::SNS::Topic":         {},
	"AWS::ApiGateway::Method": {"HttpMethod", "ResourceId", "RestApiId"},
	"AWS::RDS::DBInstance":    {"DBInstanceClass", "Engine"},
}

// RequiredProperties returns the required-property list for a resource
// type and whether the type is known to the table.
func RequiredProperties(resourceType string) ([]string, bool) {
	props, ok := requiredProperties[resourceType]
	return props, ok
}

// checkStructure validates the template shell: a Resources section must
// exist and a format version should be declared.
func checkStructure(tpl *template.Template) []Issue {
	var issues []Issue

	if len(tpl.Resources) == 0 {
		issues = append(issues, Issue{
			ResourceID:  TemplateScope,
			Kind:        IssueMissingRequiredProperty,
			Severity:    SeverityHigh,
			Description: "template declares no resources",
			Remediation: "add at least one resource to the Resources section",
		})
	}

	if tpl.FormatVersion == "" {
		issues = append(issues, Issue{
			ResourceID:  TemplateScope,
			Kind:        IssueMissingRequiredProperty,
			Severity:    SeverityLow,
			Description: "template format version is not declared",
			Remediation: "add AWSTemplateFormatVersion: 2010-09-09",
			Suggestion:  &Suggestion{Property: "AWSTemplateFormatVersion"},
		})
	}

	return issues
}

// checkRequiredProperties applies the required-property table to every
// resource.
func checkRequiredProperties(tpl *template.Template) []Issue {
	var issues []Issue

	for _, name := range tpl.ResourceNames() {
		res := tpl.Resource(name)
		required, known := requiredProperties[res.Type]
		if !known {
			continue
		}
		for _, prop := range required {
			if _, ok := res.GetProperty(prop); ok {
				continue
			}
			issues = append(issues, Issue{
				ResourceID:  name,
				Kind:        IssueMissingRequiredProperty,
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("resource %s (%s) is missing required property %s", name, res.Type, prop),
				Remediation: fmt.Sprintf("set the %s property on %s", prop, name),
				Suggestion:  &Suggestion{Property: prop},
			})
		}
	}

	return issues
}

// checkCompanions applies pattern rules for resources that need a
// supporting resource elsewhere in the template.
func checkCompanions(tpl *template.Template) []Issue {
	var issues []Issue

	// Lambda functions need an execution role available in the template.
	for _, name := range tpl.ResourcesOfType("AWS::Lambda::Function") {
		if tpl.HasResourceOfType("AWS::IAM::Role") {
			continue
		}
		issues = append(issues, Issue{
			ResourceID:  name,
			Kind:        IssueMissingCompanionResource,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("function %s has no execution role resource in the template", name),
			Remediation: "add an AWS::IAM::Role with a Lambda trust policy and wire the function's Role property to it",
			Suggestion: &Suggestion{
				ResourceType: "AWS::IAM::Role",
				LogicalID:    name + "ExecutionRole",
				Property:     "Role",
				Attribute:    "Arn",
			},
		})
	}

	// A REST API without any method is undeployable in practice.
	for _, name := range tpl.ResourcesOfType("AWS::ApiGateway::RestApi") {
		if tpl.HasResourceOfType("AWS::ApiGateway::Method") {
			continue
		}
		issues = append(issues, Issue{
			ResourceID:  name,
			Kind:        IssueMissingCompanionResource,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("REST API %s has no method resources", name),
			Remediation: "add at least one AWS::ApiGateway::Method referencing the API",
			Suggestion: &Suggestion{
				ResourceType: "AWS::ApiGateway::Method",
				LogicalID:    name + "Method",
				Property:     "RestApiId",
			},
		})
	}

	return issues
}

// taggableTypes lists the resource types the tagging best practice
// applies to. Deliberately narrower than what the provider can tag:
// only types where untagged resources routinely escape cost and
// ownership reporting.
var taggableTypes = map[string]bool{
	"AWS::S3::Bucket":       true,
	"AWS::EC2::Instance":    true,
	"AWS::Lambda::Function": true,
	"AWS::DynamoDB::Table":  true,
	"AWS::RDS::DBInstance":  true,
}

// checkBestPractices flags deviations that do not affect correctness.
func checkBestPractices(tpl *template.Template) []Issue {
	var issues []Issue

	for _, name := range tpl.ResourceNames() {
		res := tpl.Resource(name)
		if !taggableTypes[res.Type] {
			continue
		}
		if _, ok := res.GetProperty("Tags"); ok {
			continue
		}
		issues = append(issues, Issue{
			ResourceID:  name,
			Kind:        IssueBestPracticeDeviation,
			Severity:    SeverityLow,
			Description: fmt.Sprintf("resource %s (%s) has no tags", name, res.Type),
			Remediation: fmt.Sprintf("add a Tags property to %s identifying owner and management", name),
			Suggestion:  &Suggestion{Property: "Tags"},
		})
	}

	return issues
}
