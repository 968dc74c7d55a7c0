package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadRegoFile(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	path := filepath.Join(t.TempDir(), "require-tags.rego")
	writeFile(t, path, `# Flags resources without a Tags property.
package custom.tags

import rego.v1

deny contains msg if {
	not input.resource.properties.Tags
	msg := "resource has no tags"
}
`)

	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("policies = %d, want 1", len(policies))
	}

	p := policies[0]
	if p.Name != "require-tags" {
		t.Errorf("name = %s, want require-tags", p.Name)
	}
	if p.Description != "Flags resources without a Tags property." {
		t.Errorf("description = %q", p.Description)
	}
	if p.Severity != SeverityMedium {
		t.Errorf("severity = %s, want MEDIUM default", p.Severity)
	}
	if !p.Enabled {
		t.Error("loaded policy not enabled")
	}
}

func TestLoadJSONFile(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	path := filepath.Join(t.TempDir(), "no-public-buckets.json")
	writeFile(t, path, `{
  "name": "no-public-buckets",
  "description": "Buckets must not grant public read",
  "severity": "HIGH",
  "enabled": true,
  "rego": "package custom.buckets\n\nimport rego.v1\n\ndeny contains msg if {\n\tinput.resource.properties.AccessControl == \"PublicRead\"\n\tmsg := \"bucket grants public read\"\n}\n"
}`)

	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("policies = %d, want 1", len(policies))
	}

	p := policies[0]
	if p.Name != "no-public-buckets" {
		t.Errorf("name = %s", p.Name)
	}
	if p.Severity != SeverityHigh {
		t.Errorf("severity = %s, want HIGH", p.Severity)
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Error("timestamps not defaulted")
	}
}

func TestLoadDirectoryRecursive(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.rego"), "package a\n")
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), "package b\n")
	// Non-policy files are ignored, broken policy files are skipped.
	writeFile(t, filepath.Join(dir, "readme.md"), "# docs\n")
	writeFile(t, filepath.Join(dir, "broken.json"), "{not json")

	policies, err := l.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("policies = %d, want 2: %+v", len(policies), policies)
	}
}

func TestLoadFromMissingPath(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	if _, err := l.LoadFromPaths(context.Background(), []string{"/does/not/exist"}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestLoaderCache(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "cached.rego")
	writeFile(t, path, "# first version\npackage cached\n")

	first, err := l.LoadFromPaths(ctx, []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	// A rewrite without cache invalidation still serves the cached copy.
	writeFile(t, path, "# second version\npackage cached\n")
	second, err := l.LoadFromPaths(ctx, []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if second[0].Description != first[0].Description {
		t.Errorf("cache miss: %q != %q", second[0].Description, first[0].Description)
	}

	l.ClearCache()
	third, err := l.LoadFromPaths(ctx, []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if third[0].Description != "second version" {
		t.Errorf("description after ClearCache = %q, want second version", third[0].Description)
	}
}
