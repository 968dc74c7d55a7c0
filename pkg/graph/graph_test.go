package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/template"
)

func parse(t *testing.T, content string) *template.Template {
	t.Helper()
	tpl, err := template.Parse([]byte(content))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return tpl
}

func TestBuildEdges(t *testing.T) {
	tpl := parse(t, `{
		"Resources": {
			"Queue": {"Type": "AWS::SQS::Queue", "Properties": {}},
			"Fn": {
				"Type": "AWS::Lambda::Function",
				"DependsOn": ["Queue"],
				"Properties": {
					"Role": {"Fn::GetAtt": ["FnRole", "Arn"]},
					"Env": {"Ref": "Queue"}
				}
			},
			"FnRole": {"Type": "AWS::IAM::Role", "Properties": {}}
		}
	}`)

	g, err := Build(tpl)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(g.Nodes()) != 3 {
		t.Errorf("expected 3 nodes, got %v", g.Nodes())
	}

	kinds := map[string]EdgeKind{}
	for _, e := range g.Edges() {
		kinds[e.Source+"->"+e.Target] = e.Kind
	}
	if kinds["Fn->Queue"] == "" {
		t.Error("missing Fn->Queue edge")
	}
	if kinds["Fn->FnRole"] != EdgeKindReference {
		t.Errorf("expected REFERENCE edge Fn->FnRole, got %q", kinds["Fn->FnRole"])
	}

	deps := g.DependenciesOf("Fn")
	if len(deps) != 2 {
		t.Errorf("expected Fn to depend on 2 resources, got %v", deps)
	}
}

func TestBuildParameterRefsAreNotEdges(t *testing.T) {
	tpl := parse(t, `{
		"Parameters": {"Stage": {"Type": "String"}},
		"Resources": {
			"Queue": {
				"Type": "AWS::SQS::Queue",
				"Properties": {"QueueName": {"Ref": "Stage"}}
			}
		}
	}`)

	g, err := Build(tpl)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(g.Edges()) != 0 {
		t.Errorf("expected no edges, got %v", g.Edges())
	}
}

func TestBuildMalformedReferences(t *testing.T) {
	cases := map[string]string{
		"unknown ref": `{
			"Resources": {
				"Queue": {"Type": "AWS::SQS::Queue", "Properties": {"Name": {"Ref": "Ghost"}}}
			}
		}`,
		"self reference": `{
			"Resources": {
				"Queue": {"Type": "AWS::SQS::Queue", "Properties": {"Name": {"Ref": "Queue"}}}
			}
		}`,
		"self depends on": `{
			"Resources": {
				"Queue": {"Type": "AWS::SQS::Queue", "DependsOn": ["Queue"], "Properties": {}}
			}
		}`,
		"unknown depends on": `{
			"Resources": {
				"Queue": {"Type": "AWS::SQS::Queue", "DependsOn": ["Ghost"], "Properties": {}}
			}
		}`,
	}

	for name, content := range cases {
		_, err := Build(parse(t, content))
		if err == nil {
			t.Errorf("%s: expected build to fail", name)
			continue
		}
		var engErr *engine.EngineError
		if !errors.As(err, &engErr) || engErr.Code != engine.ErrCodeMalformedReference {
			t.Errorf("%s: expected MALFORMED_REFERENCE, got %v", name, err)
		}
	}
}

func TestCyclesDetected(t *testing.T) {
	tpl := parse(t, `{
		"Resources": {
			"A": {"Type": "AWS::SNS::Topic", "DependsOn": ["B"], "Properties": {}},
			"B": {"Type": "AWS::SNS::Topic", "DependsOn": ["A"], "Properties": {}},
			"C": {"Type": "AWS::SNS::Topic", "Properties": {}}
		}
	}`)

	g, err := Build(tpl)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	cycles := g.Cycles()
	if len(cycles) != 1 {
		t.Fatalf("expected exactly one cycle, got %v", cycles)
	}
	cycle := cycles[0]
	members := map[string]bool{}
	for _, n := range cycle {
		members[n] = true
	}
	if !members["A"] || !members["B"] || members["C"] {
		t.Errorf("unexpected cycle members %v", cycle)
	}

	formatted := FormatCycle(cycle)
	if !strings.Contains(formatted, "->") {
		t.Errorf("unexpected cycle format %q", formatted)
	}
}

func TestCyclesEdgeIntoCycleIsNotACycle(t *testing.T) {
	tpl := parse(t, `{
		"Resources": {
			"A": {"Type": "AWS::SNS::Topic", "DependsOn": ["B"], "Properties": {}},
			"B": {"Type": "AWS::SNS::Topic", "DependsOn": ["A"], "Properties": {}},
			"C": {"Type": "AWS::SNS::Topic", "DependsOn": ["A"], "Properties": {}}
		}
	}`)

	g, err := Build(tpl)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// C points into the A<->B cycle but is not part of it; only
	// the real cycle may be reported.
	cycles := g.Cycles()
	if len(cycles) != 1 {
		t.Fatalf("expected exactly one cycle, got %v", cycles)
	}
	for _, n := range cycles[0] {
		if n == "C" {
			t.Fatalf("node outside the cycle reported as a member: %v", cycles[0])
		}
	}
}

func TestCyclesAcyclic(t *testing.T) {
	tpl := parse(t, `{
		"Resources": {
			"A": {"Type": "AWS::SNS::Topic", "DependsOn": ["B"], "Properties": {}},
			"B": {"Type": "AWS::SNS::Topic", "Properties": {}}
		}
	}`)

	g, err := Build(tpl)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if cycles := g.Cycles(); len(cycles) != 0 {
		t.Errorf("expected no cycles, got %v", cycles)
	}
}

func TestLevels(t *testing.T) {
	tpl := parse(t, `{
		"Resources": {
			"Db": {"Type": "AWS::RDS::DBInstance", "Properties": {}},
			"Role": {"Type": "AWS::IAM::Role", "Properties": {}},
			"Fn": {
				"Type": "AWS::Lambda::Function",
				"DependsOn": ["Db"],
				"Properties": {"Role": {"Fn::GetAtt": ["Role", "Arn"]}}
			}
		}
	}`)

	g, err := Build(tpl)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	levels, ok := g.Levels()
	if !ok {
		t.Fatal("expected acyclic levels")
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %v", levels)
	}
	if levels[0][0] != "Db" || levels[0][1] != "Role" {
		t.Errorf("unexpected first level %v", levels[0])
	}
	if levels[1][0] != "Fn" {
		t.Errorf("unexpected second level %v", levels[1])
	}
}

func TestLevelsWithCycle(t *testing.T) {
	tpl := parse(t, `{
		"Resources": {
			"A": {"Type": "AWS::SNS::Topic", "DependsOn": ["B"], "Properties": {}},
			"B": {"Type": "AWS::SNS::Topic", "DependsOn": ["A"], "Properties": {}}
		}
	}`)

	g, err := Build(tpl)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, ok := g.Levels(); ok {
		t.Error("expected Levels to report the cycle")
	}
}

func TestToDOT(t *testing.T) {
	tpl := parse(t, `{
		"Resources": {
			"A": {"Type": "AWS::SNS::Topic", "DependsOn": ["B"], "Properties": {}},
			"B": {"Type": "AWS::SNS::Topic", "Properties": {}}
		}
	}`)

	g, err := Build(tpl)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	dot := g.ToDOT()
	if !strings.Contains(dot, "digraph") || !strings.Contains(dot, `"A"`) {
		t.Errorf("unexpected DOT output:\n%s", dot)
	}
}
