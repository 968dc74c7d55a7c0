// Package policy evaluates Rego policies against template resources.
// Built-in policies cover the baseline security rules (open ingress,
// unencrypted data at rest, wildcard IAM actions); additional .rego files
// can be loaded from disk and hot-reloaded on change.
package policy
