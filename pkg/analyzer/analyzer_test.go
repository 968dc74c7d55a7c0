package analyzer

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackmend/stackmend/pkg/template"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create analyzer: %v", err)
	}
	return a
}

func parse(t *testing.T, content string) *template.Template {
	t.Helper()
	tpl, err := template.Parse([]byte(content))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return tpl
}

func findIssue(issues []Issue, kind IssueKind, resourceID string) *Issue {
	for i := range issues {
		if issues[i].Kind == kind && issues[i].ResourceID == resourceID {
			return &issues[i]
		}
	}
	return nil
}

func TestAnalyzeEmptyTemplate(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{"AWSTemplateFormatVersion": "2010-09-09"}`)

	result, err := a.Analyze(context.Background(), tpl)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	issue := findIssue(result.Issues, IssueMissingRequiredProperty, TemplateScope)
	if issue == nil {
		t.Fatalf("expected template-scope issue for empty template, got %v", result.Issues)
	}
	if issue.Severity != SeverityHigh {
		t.Errorf("expected HIGH severity, got %s", issue.Severity)
	}
}

func TestAnalyzeMissingFormatVersion(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{"Resources": {"Queue": {"Type": "AWS::SQS::Queue", "Properties": {}}}}`)

	result, err := a.Analyze(context.Background(), tpl)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	issue := findIssue(result.Issues, IssueMissingRequiredProperty, TemplateScope)
	if issue == nil {
		t.Fatal("expected format-version issue")
	}
	if issue.Severity != SeverityLow {
		t.Errorf("expected LOW severity, got %s", issue.Severity)
	}
	if issue.Suggestion == nil || issue.Suggestion.Property != "AWSTemplateFormatVersion" {
		t.Errorf("unexpected suggestion %+v", issue.Suggestion)
	}
}

func TestAnalyzeMissingRequiredProperties(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Resources": {
			"Db": {"Type": "AWS::RDS::DBInstance", "Properties": {"Engine": "postgres"}}
		}
	}`)

	result, err := a.Analyze(context.Background(), tpl)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	issue := findIssue(result.Issues, IssueMissingRequiredProperty, "Db")
	if issue == nil {
		t.Fatalf("expected missing DBInstanceClass issue, got %v", result.Issues)
	}
	if issue.Severity != SeverityHigh {
		t.Errorf("expected HIGH severity, got %s", issue.Severity)
	}
	if issue.Suggestion == nil || issue.Suggestion.Property != "DBInstanceClass" {
		t.Errorf("unexpected suggestion %+v", issue.Suggestion)
	}
}

func TestAnalyzeLambdaCompanionRole(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Resources": {
			"Fn": {
				"Type": "AWS::Lambda::Function",
				"Properties": {"Code": {"ZipFile": "x"}, "Role": "arn:aws:iam::1:role/x"}
			}
		}
	}`)

	result, err := a.Analyze(context.Background(), tpl)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	issue := findIssue(result.Issues, IssueMissingCompanionResource, "Fn")
	if issue == nil {
		t.Fatalf("expected companion role issue, got %v", result.Issues)
	}
	if issue.Suggestion == nil || issue.Suggestion.ResourceType != "AWS::IAM::Role" {
		t.Errorf("unexpected suggestion %+v", issue.Suggestion)
	}
	if issue.Suggestion.LogicalID != "FnExecutionRole" {
		t.Errorf("unexpected suggested logical id %q", issue.Suggestion.LogicalID)
	}
	if len(result.MissingComponents) != 1 {
		t.Errorf("expected issue mirrored in MissingComponents, got %v", result.MissingComponents)
	}
}

func TestAnalyzeCycle(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Resources": {
			"A": {"Type": "AWS::SNS::Topic", "DependsOn": ["B"], "Properties": {}},
			"B": {"Type": "AWS::SNS::Topic", "DependsOn": ["A"], "Properties": {}}
		}
	}`)

	result, err := a.Analyze(context.Background(), tpl)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	if len(result.Cycles) != 1 {
		t.Fatalf("expected one recorded cycle, got %v", result.Cycles)
	}

	var cycleIssues []Issue
	for _, issue := range result.Issues {
		if issue.Kind == IssueCircularDependency {
			cycleIssues = append(cycleIssues, issue)
		}
	}
	if len(cycleIssues) != 1 {
		t.Fatalf("expected exactly one cycle issue, got %d", len(cycleIssues))
	}
	if cycleIssues[0].Severity != SeverityHigh {
		t.Errorf("expected HIGH severity, got %s", cycleIssues[0].Severity)
	}
}

func TestAnalyzeMalformedReferenceIsFatal(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{
		"Resources": {
			"Queue": {"Type": "AWS::SQS::Queue", "Properties": {"Name": {"Ref": "Ghost"}}}
		}
	}`)

	if _, err := a.Analyze(context.Background(), tpl); err == nil {
		t.Fatal("expected malformed reference to fail analysis")
	}
}

func TestAnalyzePolicyViolations(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Resources": {
			"Bucket": {"Type": "AWS::S3::Bucket", "Properties": {"BucketName": "logs"}},
			"Sg": {
				"Type": "AWS::EC2::SecurityGroup",
				"Properties": {
					"GroupDescription": "wide open",
					"SecurityGroupIngress": [
						{"IpProtocol": "tcp", "FromPort": 22, "ToPort": 22, "CidrIp": "0.0.0.0/0"}
					]
				}
			}
		}
	}`)

	result, err := a.Analyze(context.Background(), tpl)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	bucket := findIssue(result.PolicyViolations, IssuePolicyViolation, "Bucket")
	if bucket == nil {
		t.Errorf("expected unencrypted bucket violation, got %v", result.PolicyViolations)
	} else if bucket.Severity != SeverityHigh {
		t.Errorf("expected HIGH severity for bucket, got %s", bucket.Severity)
	}

	sg := findIssue(result.PolicyViolations, IssuePolicyViolation, "Sg")
	if sg == nil {
		t.Errorf("expected open ingress violation, got %v", result.PolicyViolations)
	} else if sg.Severity != SeverityMedium {
		t.Errorf("expected MEDIUM severity for security group, got %s", sg.Severity)
	}
}

func TestAnalyzeOrderingAndDeterminism(t *testing.T) {
	a := newTestAnalyzer(t)
	content := `{
		"Resources": {
			"Zed": {"Type": "AWS::EC2::Instance", "Properties": {}},
			"Alpha": {"Type": "AWS::EC2::Instance", "Properties": {}},
			"Bucket": {"Type": "AWS::S3::Bucket", "Properties": {}}
		}
	}`

	first, err := a.Analyze(context.Background(), parse(t, content))
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	second, err := a.Analyze(context.Background(), parse(t, content))
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	if !reflect.DeepEqual(first.Issues, second.Issues) {
		t.Error("expected identical issue lists across runs")
	}

	// Severity descending, then resource id.
	for i := 1; i < len(first.Issues); i++ {
		prev, cur := first.Issues[i-1], first.Issues[i]
		if prev.Severity == cur.Severity && prev.ResourceID > cur.ResourceID {
			t.Errorf("issues not ordered by resource id: %s before %s", prev.ResourceID, cur.ResourceID)
		}
	}
	if len(first.Issues) > 1 {
		ranks := map[Severity]int{SeverityHigh: 0, SeverityMedium: 1, SeverityLow: 2}
		for i := 1; i < len(first.Issues); i++ {
			if ranks[first.Issues[i-1].Severity] > ranks[first.Issues[i].Severity] {
				t.Error("issues not ordered by severity descending")
				break
			}
		}
	}
}

func TestAnalyzeCleanTemplate(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Resources": {
			"Queue": {"Type": "AWS::SQS::Queue", "Properties": {"QueueName": "orders"}}
		}
	}`)

	result, err := a.Analyze(context.Background(), tpl)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if result.HasIssues() {
		t.Errorf("expected clean analysis, got %v", result.Issues)
	}
	if result.HasBlocking() {
		t.Error("expected no blocking issues")
	}
	if result.ResourceCount != 1 {
		t.Errorf("unexpected resource count %d", result.ResourceCount)
	}
}

func TestAnalyzeFlagsUntaggedResources(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Resources": {
			"Bare": {
				"Type": "AWS::DynamoDB::Table",
				"Properties": {
					"AttributeDefinitions": [{"AttributeName": "pk", "AttributeType": "S"}],
					"KeySchema": [{"AttributeName": "pk", "KeyType": "HASH"}]
				}
			},
			"Tagged": {
				"Type": "AWS::DynamoDB::Table",
				"Properties": {
					"AttributeDefinitions": [{"AttributeName": "pk", "AttributeType": "S"}],
					"KeySchema": [{"AttributeName": "pk", "KeyType": "HASH"}],
					"Tags": [{"Key": "Owner", "Value": "platform"}]
				}
			},
			"Queue": {"Type": "AWS::SQS::Queue", "Properties": {"QueueName": "orders"}}
		}
	}`)

	result, err := a.Analyze(context.Background(), tpl)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	var deviations []Issue
	for _, issue := range result.Issues {
		if issue.Kind == IssueBestPracticeDeviation {
			deviations = append(deviations, issue)
		}
	}
	if len(deviations) != 1 {
		t.Fatalf("deviations = %+v, want exactly one for Bare", deviations)
	}
	d := deviations[0]
	if d.ResourceID != "Bare" {
		t.Errorf("resource = %s, want Bare", d.ResourceID)
	}
	if d.Severity != SeverityLow {
		t.Errorf("severity = %s, want LOW", d.Severity)
	}
	if d.Suggestion == nil || d.Suggestion.Property != "Tags" {
		t.Errorf("suggestion = %+v, want Tags property", d.Suggestion)
	}
}

func TestResultIssuesFor(t *testing.T) {
	a := newTestAnalyzer(t)
	tpl := parse(t, `{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Resources": {
			"Fn": {
				"Type": "AWS::Lambda::Function",
				"Properties": {
					"Code": {"ZipFile": "exports.handler = async () => {};"}
				}
			},
			"Queue": {"Type": "AWS::SQS::Queue", "Properties": {"QueueName": "orders"}}
		}
	}`)

	result, err := a.Analyze(context.Background(), tpl)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	fnIssues := result.IssuesFor("Fn")
	if len(fnIssues) == 0 {
		t.Fatal("no issues reported for Fn")
	}
	for _, issue := range fnIssues {
		if issue.ResourceID != "Fn" {
			t.Errorf("IssuesFor(Fn) returned issue for %s", issue.ResourceID)
		}
	}
	if len(fnIssues)+len(result.IssuesFor("Queue")) != len(result.Issues) {
		t.Errorf("per-resource issues do not partition the %d total", len(result.Issues))
	}
	// Result order is preserved: severities never increase.
	rank := map[Severity]int{SeverityHigh: 2, SeverityMedium: 1, SeverityLow: 0}
	for i := 1; i < len(fnIssues); i++ {
		if rank[fnIssues[i].Severity] > rank[fnIssues[i-1].Severity] {
			t.Errorf("IssuesFor broke severity order: %s after %s",
				fnIssues[i].Severity, fnIssues[i-1].Severity)
		}
	}
	if got := result.IssuesFor("Missing"); len(got) != 0 {
		t.Errorf("IssuesFor(Missing) = %+v, want none", got)
	}
}
