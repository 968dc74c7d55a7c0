// Package graph builds the directed dependency graph of a template's
// resources from explicit ordering lists and implicit references, and
// provides cycle detection and topological levels over it.
//
// The graph is derived data: it is rebuilt from scratch on every analysis
// pass and never incrementally patched.
package graph
