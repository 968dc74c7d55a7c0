package fixer

import (
	"context"
	"testing"

	"github.com/stackmend/stackmend/pkg/template"
)

const queueAndFunction = `{
  "AWSTemplateFormatVersion": "2010-09-09",
  "Resources": {
    "Queue": {"Type": "AWS::SQS::Queue", "Properties": {"QueueName": "orders"}},
    "FnRole": {
      "Type": "AWS::IAM::Role",
      "Properties": {"AssumeRolePolicyDocument": {"Version": "2012-10-17"}}
    },
    "Fn": {
      "Type": "AWS::Lambda::Function",
      "DependsOn": ["Queue"],
      "Properties": {
        "Code": {"ZipFile": "exports.handler = async () => {};"},
        "Role": {"Fn::GetAtt": ["FnRole", "Arn"]},
        "Environment": {"Variables": {"QUEUE_URL": {"Ref": "Queue"}}}
      }
    }
  }
}`

func TestFixForFailureRenamesOnCollision(t *testing.T) {
	f, _ := newTestFixer(t)
	ctx := context.Background()

	tpl := parse(t, queueAndFunction)
	out, err := f.FixForFailure(ctx, tpl, "Resource of type AWS::SQS::Queue with identifier orders already exists", "Queue")
	if err != nil {
		t.Fatalf("FixForFailure: %v", err)
	}
	if len(out.Applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(out.Applied))
	}
	fix := out.Applied[0]
	if fix.Kind != FixDeploymentFailure {
		t.Errorf("kind = %s, want %s", fix.Kind, FixDeploymentFailure)
	}
	if fix.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %s, want HIGH", fix.Confidence)
	}

	fixed := out.FixedTemplate
	if fixed.Resource("Queue") != nil {
		t.Error("old name Queue still present")
	}
	if fixed.Resource("QueueV2") == nil {
		t.Fatal("QueueV2 not created")
	}

	fn := fixed.Resource("Fn")
	if len(fn.DependsOn) != 1 || fn.DependsOn[0] != "QueueV2" {
		t.Errorf("Fn.DependsOn = %v, want [QueueV2]", fn.DependsOn)
	}
	raw, ok := fn.GetProperty("Environment.Variables.QUEUE_URL")
	if !ok {
		t.Fatal("QUEUE_URL property lost")
	}
	if ref, ok := raw.(template.Ref); !ok || ref.Target != "QueueV2" {
		t.Errorf("QUEUE_URL = %#v, want Ref QueueV2", raw)
	}
}

func TestFixForFailureRenamePicksFreeSuffix(t *testing.T) {
	f, _ := newTestFixer(t)

	tpl := parse(t, `{
	  "AWSTemplateFormatVersion": "2010-09-09",
	  "Resources": {
	    "Queue": {"Type": "AWS::SQS::Queue", "Properties": {}},
	    "QueueV2": {"Type": "AWS::SQS::Queue", "Properties": {}}
	  }
	}`)
	out, err := f.FixForFailure(context.Background(), tpl, "Queue already exists", "Queue")
	if err != nil {
		t.Fatalf("FixForFailure: %v", err)
	}
	if len(out.Applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(out.Applied))
	}
	if out.FixedTemplate.Resource("QueueV3") == nil {
		t.Error("expected rename to QueueV3 when QueueV2 is taken")
	}
}

func TestFixForFailureAttachesMinimalPolicy(t *testing.T) {
	f, _ := newTestFixer(t)
	ctx := context.Background()

	tpl := parse(t, queueAndFunction)
	out, err := f.FixForFailure(ctx, tpl, "AccessDenied: user is not authorized to perform logs:CreateLogGroup", "Fn")
	if err != nil {
		t.Fatalf("FixForFailure: %v", err)
	}
	if len(out.Applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(out.Applied))
	}

	role := out.FixedTemplate.Resource("FnRole")
	raw, ok := role.GetProperty("Policies")
	if !ok {
		t.Fatal("no Policies attached to FnRole")
	}
	policies, ok := raw.(template.List)
	if !ok || len(policies) != 1 {
		t.Fatalf("Policies = %#v, want one inline policy", raw)
	}
	p := policies[0].(template.Map)
	if name, ok := p["PolicyName"].(template.Scalar); !ok || name.V != "FnAccessPolicy" {
		t.Errorf("PolicyName = %#v", p["PolicyName"])
	}

	// A second attempt with the same failure must not stack a duplicate
	// policy.
	again, err := f.FixForFailure(ctx, out.FixedTemplate, "access denied", "Fn")
	if err != nil {
		t.Fatalf("second FixForFailure: %v", err)
	}
	if len(again.Applied) != 0 {
		t.Errorf("second attempt applied %d fixes, want 0", len(again.Applied))
	}
}

func TestFixForFailureFillsRequiredDefaults(t *testing.T) {
	f, _ := newTestFixer(t)

	tpl := parse(t, `{
	  "AWSTemplateFormatVersion": "2010-09-09",
	  "Resources": {
	    "Table": {"Type": "AWS::DynamoDB::Table", "Properties": {}}
	  }
	}`)
	out, err := f.FixForFailure(context.Background(), tpl, "Invalid request: AttributeDefinitions must not be empty", "Table")
	if err != nil {
		t.Fatalf("FixForFailure: %v", err)
	}
	if len(out.Applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(out.Applied))
	}

	table := out.FixedTemplate.Resource("Table")
	for _, prop := range []string{"AttributeDefinitions", "KeySchema"} {
		if _, ok := table.GetProperty(prop); !ok {
			t.Errorf("%s not filled", prop)
		}
	}
}

func TestFixForFailureOperationalFailuresGetNoFix(t *testing.T) {
	f, _ := newTestFixer(t)
	tpl := parse(t, queueAndFunction)

	for _, reason := range []string{
		"Rate exceeded: Throttling",
		"LimitExceededException: too many queues",
	} {
		out, err := f.FixForFailure(context.Background(), tpl, reason, "Queue")
		if err != nil {
			t.Fatalf("FixForFailure(%q): %v", reason, err)
		}
		if len(out.Applied) != 0 {
			t.Errorf("reason %q applied %d fixes, want 0", reason, len(out.Applied))
		}
		if out.FixedTemplate != tpl {
			t.Errorf("reason %q replaced the template without a fix", reason)
		}
	}
}

func TestFixForFailureUnknownReason(t *testing.T) {
	f, _ := newTestFixer(t)
	tpl := parse(t, queueAndFunction)

	out, err := f.FixForFailure(context.Background(), tpl, "Internal Failure", "Queue")
	if err != nil {
		t.Fatalf("FixForFailure: %v", err)
	}
	if len(out.Applied) != 0 {
		t.Errorf("applied = %d, want 0", len(out.Applied))
	}
}

func TestFixForFailureValidationRoundTrip(t *testing.T) {
	f, _ := newTestFixer(t)
	ctx := context.Background()

	tpl := parse(t, queueAndFunction)
	out, err := f.FixForFailure(ctx, tpl, "already exists", "Queue")
	if err != nil {
		t.Fatalf("FixForFailure: %v", err)
	}
	if out.Validation == nil {
		t.Fatal("no re-analysis attached to applied failure fix")
	}

	replayed, err := Replay(tpl, out.Applied)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !replayed.Equal(out.FixedTemplate) {
		t.Error("replayed template differs from the fixed template")
	}
}
