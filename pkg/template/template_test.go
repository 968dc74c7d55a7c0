package template

import (
	"testing"
)

func fixture(t *testing.T) *Template {
	t.Helper()
	tpl, err := Parse([]byte(jsonFixture))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return tpl
}

func TestCloneIsIndependent(t *testing.T) {
	tpl := fixture(t)
	clone := tpl.Clone()

	if !tpl.Equal(clone) {
		t.Fatal("expected clone to equal original")
	}

	fn := clone.Resource("Fn")
	fn.SetProperty("Timeout", Scalar{V: 300})
	fn.DependsOn = append(fn.DependsOn, "FnRole")
	clone.Resources["Extra"] = &Resource{LogicalID: "Extra", Type: "AWS::SNS::Topic"}

	if tpl.Equal(clone) {
		t.Fatal("expected mutated clone to differ from original")
	}
	if _, ok := tpl.Resource("Fn").GetProperty("Timeout"); ok {
		t.Error("clone mutation leaked into original properties")
	}
	if len(tpl.Resource("Fn").DependsOn) != 1 {
		t.Error("clone mutation leaked into original DependsOn")
	}
	if tpl.Resource("Extra") != nil {
		t.Error("clone mutation leaked into original resources")
	}
}

func TestAddResource(t *testing.T) {
	tpl := fixture(t)

	err := tpl.AddResource(&Resource{LogicalID: "Topic", Type: "AWS::SNS::Topic"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if tpl.Resource("Topic") == nil {
		t.Fatal("added resource missing")
	}

	if err := tpl.AddResource(&Resource{LogicalID: "Topic", Type: "AWS::SNS::Topic"}); err == nil {
		t.Error("expected duplicate logical id to be rejected")
	}
	if err := tpl.AddResource(&Resource{Type: "AWS::SNS::Topic"}); err == nil {
		t.Error("expected empty logical id to be rejected")
	}
}

func TestRenameResourceRewritesReferences(t *testing.T) {
	tpl := fixture(t)

	if err := tpl.RenameResource("Queue", "OrdersQueue"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	if tpl.Resource("Queue") != nil {
		t.Error("old name still present")
	}
	renamed := tpl.Resource("OrdersQueue")
	if renamed == nil {
		t.Fatal("new name missing")
	}
	if renamed.LogicalID != "OrdersQueue" {
		t.Errorf("logical id not updated: %q", renamed.LogicalID)
	}

	fn := tpl.Resource("Fn")
	if fn.DependsOn[0] != "OrdersQueue" {
		t.Errorf("DependsOn not rewritten: %v", fn.DependsOn)
	}
	url, _ := fn.GetProperty("Environment.Variables.QUEUE_URL")
	if ref, ok := url.(Ref); !ok || ref.Target != "OrdersQueue" {
		t.Errorf("Ref not rewritten: %#v", url)
	}
	out := tpl.Outputs["QueueArn"]
	arn, ok := out.(Map)["Value"]
	if !ok {
		t.Fatal("output value missing")
	}
	if ga, ok := arn.(GetAtt); !ok || ga.Target != "OrdersQueue" {
		t.Errorf("output GetAtt not rewritten: %#v", arn)
	}
}

func TestRenameResourceErrors(t *testing.T) {
	tpl := fixture(t)

	if err := tpl.RenameResource("Missing", "New"); err == nil {
		t.Error("expected rename of missing resource to fail")
	}
	if err := tpl.RenameResource("Queue", "Fn"); err == nil {
		t.Error("expected rename onto existing name to fail")
	}
}

func TestPropertyPaths(t *testing.T) {
	tpl := fixture(t)
	fn := tpl.Resource("Fn")

	// Set on a new nested path.
	if _, existed := fn.SetProperty("TracingConfig.Mode", Scalar{V: "Active"}); existed {
		t.Error("expected new path to report not existing")
	}
	got, ok := fn.GetProperty("TracingConfig.Mode")
	if !ok {
		t.Fatal("set property not readable")
	}
	if s, ok := got.(Scalar); !ok || s.V != "Active" {
		t.Errorf("unexpected value %#v", got)
	}

	// Overwrite returns the previous value.
	prev, existed := fn.SetProperty("TracingConfig.Mode", Scalar{V: "PassThrough"})
	if !existed {
		t.Error("expected overwrite to report existing")
	}
	if s, ok := prev.(Scalar); !ok || s.V != "Active" {
		t.Errorf("unexpected previous value %#v", prev)
	}

	// Remove returns the removed value.
	removed, ok := fn.RemoveProperty("TracingConfig.Mode")
	if !ok {
		t.Fatal("remove reported missing")
	}
	if s, ok := removed.(Scalar); !ok || s.V != "PassThrough" {
		t.Errorf("unexpected removed value %#v", removed)
	}
	if _, ok := fn.GetProperty("TracingConfig.Mode"); ok {
		t.Error("property still present after removal")
	}

	if _, ok := fn.RemoveProperty("Nope.Nothing"); ok {
		t.Error("expected removal of missing path to report false")
	}
}

func TestResourcesOfType(t *testing.T) {
	tpl := fixture(t)

	roles := tpl.ResourcesOfType("AWS::IAM::Role")
	if len(roles) != 1 || roles[0] != "FnRole" {
		t.Errorf("unexpected roles %v", roles)
	}
	if !tpl.HasResourceOfType("AWS::Lambda::Function") {
		t.Error("expected lambda to be present")
	}
	if tpl.HasResourceOfType("AWS::RDS::DBInstance") {
		t.Error("did not expect a database")
	}
}

func TestResourceReferences(t *testing.T) {
	tpl := fixture(t)

	refs := tpl.Resource("Fn").References()
	targets := map[string]bool{}
	for _, r := range refs {
		targets[r.Target] = true
	}
	for _, want := range []string{"Queue", "Stage", "FnRole"} {
		if !targets[want] {
			t.Errorf("expected reference to %s, got %v", want, refs)
		}
	}
}

func TestIsPseudoReference(t *testing.T) {
	if !IsPseudoReference("AWS::Region") {
		t.Error("AWS::Region should be pseudo")
	}
	if IsPseudoReference("Queue") {
		t.Error("Queue should not be pseudo")
	}
}
