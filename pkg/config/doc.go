// Package config loads engine configuration from CUE files. CUE is a
// superset of JSON, so plain JSON config files work unchanged; CUE
// files additionally get schema-checked defaults and constraints before
// struct-level validation runs.
package config
