// Package analyzer runs structural and policy checks over a template and
// its dependency graph, producing a deterministic, severity-ordered list
// of issues. Structural rules (required properties, companion resources,
// cycles) are declarative Go tables; policy rules are evaluated by the
// embedded Rego engine in the policy subpackage.
package analyzer
