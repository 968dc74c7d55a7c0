// Package template provides the in-memory model for declarative
// infrastructure templates: resources, parameters, outputs and conditions,
// together with parsing, serialization, reference scanning and the
// mutation helpers used by the fix engine.
//
// Property values are modelled as an explicit tree (Value) instead of raw
// interface{} maps so that reference scanning and structural comparison
// never depend on reflection.
package template
