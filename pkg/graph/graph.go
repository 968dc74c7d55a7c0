package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/template"
)

// EdgeKind classifies how a dependency edge was derived.
type EdgeKind string

const (
	// EdgeKindExplicit is an entry in a resource's explicit ordering list.
	EdgeKindExplicit EdgeKind = "EXPLICIT"

	// EdgeKindReference is an implicit reference found in a property tree.
	EdgeKindReference EdgeKind = "REFERENCE"
)

// Edge is one directed dependency: Source depends on Target.
type Edge struct {
	// Source is the logical name of the depending resource.
	Source string `json:"source"`

	// Target is the logical name of the resource depended upon.
	Target string `json:"target"`

	// Kind is how the edge was derived.
	Kind EdgeKind `json:"kind"`

	// Path is the property path that produced a REFERENCE edge.
	Path string `json:"path,omitempty"`
}

// Graph is the directed dependency graph of one template's resources.
type Graph struct {
	// nodes holds every resource logical name.
	nodes map[string]bool

	// edges lists all dependency edges in deterministic order.
	edges []Edge

	// adjacency maps a resource to the resources it depends on.
	adjacency map[string][]string
}

// Build walks every resource of the template and produces its dependency
// graph. Each resolved reference becomes a REFERENCE edge and each entry
// in an explicit ordering list becomes an EXPLICIT edge. Self-references
// and references that resolve to neither a resource, a parameter, nor a
// pseudo reference fail with MALFORMED_REFERENCE.
func Build(tpl *template.Template) (*Graph, error) {
	g := &Graph{
		nodes:     make(map[string]bool, len(tpl.Resources)),
		adjacency: make(map[string][]string),
	}
	for _, name := range tpl.ResourceNames() {
		g.nodes[name] = true
	}

	for _, name := range tpl.ResourceNames() {
		res := tpl.Resource(name)

		for _, dep := range res.DependsOn {
			if dep == name {
				return nil, engine.NewPermanentError(
					fmt.Sprintf("resource %s depends on itself", name), nil).
					WithCode(engine.ErrCodeMalformedReference).WithResource(name)
			}
			if !g.nodes[dep] {
				return nil, engine.NewPermanentError(
					fmt.Sprintf("resource %s depends on unknown resource %s", name, dep), nil).
					WithCode(engine.ErrCodeMalformedReference).WithResource(name)
			}
			g.addEdge(Edge{Source: name, Target: dep, Kind: EdgeKindExplicit})
		}

		for _, ref := range res.References() {
			if ref.Target == name {
				return nil, engine.NewPermanentError(
					fmt.Sprintf("resource %s references itself at %s", name, ref.Path), nil).
					WithCode(engine.ErrCodeMalformedReference).WithResource(name)
			}
			if g.nodes[ref.Target] {
				g.addEdge(Edge{Source: name, Target: ref.Target, Kind: EdgeKindReference, Path: ref.Path})
				continue
			}
			if _, isParam := tpl.Parameters[ref.Target]; isParam {
				continue
			}
			// GetAtt against a parameter is never valid, and Ref against
			// an unknown name means the template is ill-formed.
			return nil, engine.NewPermanentError(
				fmt.Sprintf("resource %s references unknown target %s at %s", name, ref.Target, ref.Path), nil).
				WithCode(engine.ErrCodeMalformedReference).WithResource(name)
		}
	}

	return g, nil
}

// addEdge records an edge, deduplicating identical source/target/kind
// triples so one property referencing a resource twice yields one edge.
func (g *Graph) addEdge(e Edge) {
	for _, existing := range g.edges {
		if existing.Source == e.Source && existing.Target == e.Target && existing.Kind == e.Kind {
			return
		}
	}
	g.edges = append(g.edges, e)
	g.adjacency[e.Source] = append(g.adjacency[e.Source], e.Target)
}

// Nodes returns all resource names in sorted order.
func (g *Graph) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Edges returns all dependency edges.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// DependenciesOf returns the resources name directly depends on, sorted.
// A resource reached by both an explicit and a reference edge appears
// once.
func (g *Graph) DependenciesOf(name string) []string {
	seen := make(map[string]bool, len(g.adjacency[name]))
	deps := make([]string, 0, len(g.adjacency[name]))
	for _, dep := range g.adjacency[name] {
		if !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	sort.Strings(deps)
	return deps
}

// Cycles detects circular dependencies with a depth-first traversal over
// every connected component. Each returned cycle is the full path,
// e.g. ["A", "B", "A"].
func (g *Graph) Cycles() [][]string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var cycles [][]string

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, dep := range g.sortedAdjacency(node) {
			if !visited[dep] {
				dfs(dep, path)
			} else if recStack[dep] {
				// Back edge. Record the cycle and keep walking; the
				// recursion stack must be unwound for every node on the
				// path or later edges into this cycle would be reported
				// as cycles of their own.
				start := 0
				for i, id := range path {
					if id == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), path[start:]...), dep)
				cycles = append(cycles, cycle)
			}
		}

		recStack[node] = false
	}

	for _, node := range g.Nodes() {
		if !visited[node] {
			dfs(node, nil)
		}
	}
	return cycles
}

// sortedAdjacency returns a node's dependencies in sorted order so cycle
// reporting is deterministic.
func (g *Graph) sortedAdjacency(node string) []string {
	deps := append([]string(nil), g.adjacency[node]...)
	sort.Strings(deps)
	return deps
}

// Levels computes topological levels with Kahn's algorithm. Resources at
// the same level have no ordering constraint between them. The second
// return value is false when the graph contains a cycle and levels cannot
// cover every node.
func (g *Graph) Levels() ([][]string, bool) {
	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string)
	for node := range g.nodes {
		inDegree[node] = 0
	}
	for _, e := range g.edges {
		inDegree[e.Source]++
		dependents[e.Target] = append(dependents[e.Target], e.Source)
	}

	var current []string
	for node, degree := range inDegree {
		if degree == 0 {
			current = append(current, node)
		}
	}
	sort.Strings(current)

	var levels [][]string
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)

		var next []string
		for _, node := range current {
			for _, dep := range dependents[node] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	return levels, processed == len(g.nodes)
}

// FormatCycle formats a cycle path for error and issue messages.
func FormatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// ToDOT generates a DOT representation of the graph for visualization
// with Graphviz tools.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph DependencyGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, node := range g.Nodes() {
		sb.WriteString(fmt.Sprintf("  %q;\n", node))
	}
	sb.WriteString("\n")

	for _, e := range g.edges {
		style := "style=solid, color=black"
		if e.Kind == EdgeKindReference {
			style = "style=dashed, color=blue"
		}
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", e.Source, e.Target, style))
	}

	sb.WriteString("}\n")
	return sb.String()
}
