package config

import (
	"time"

	"github.com/stackmend/stackmend/pkg/deploy"
)

// Config is the resolved engine configuration.
type Config struct {
	// Target is the remote stack the engine deploys to.
	Target string `json:"target" validate:"required"`

	// Region is the AWS region for the gateway. Empty defers to the
	// ambient AWS configuration.
	Region string `json:"region,omitempty"`

	Deploy    DeployConfig    `json:"deploy"`
	Analyzer  AnalyzerConfig  `json:"analyzer"`
	Store     StoreConfig     `json:"store"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// DeployConfig tunes the orchestration loop.
type DeployConfig struct {
	// MaxIterations bounds the number of deployment attempts per run.
	MaxIterations int `json:"max_iterations" validate:"min=1,max=25"`

	PerAttemptTimeout time.Duration `json:"-"`
	SubmitTimeout     time.Duration `json:"-"`
	PollInterval      time.Duration `json:"-"`

	// AutoApplyFixes permits fixes below HIGH confidence.
	AutoApplyFixes bool `json:"auto_apply_fixes"`

	// MaxFixesPerPass caps mutations per fix pass. Zero uses the
	// fixer's default.
	MaxFixesPerPass int `json:"max_fixes_per_pass" validate:"min=0"`
}

// AnalyzerConfig configures structural analysis.
type AnalyzerConfig struct {
	// PolicyPaths lists files or directories of Rego policies to load
	// in addition to the built-ins.
	PolicyPaths []string `json:"policy_paths,omitempty"`

	// DisabledPolicies names policies to skip during evaluation.
	DisabledPolicies []string `json:"disabled_policies,omitempty"`
}

// StoreConfig configures the audit store.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables auditing.
	Path string `json:"path,omitempty"`
}

// TelemetryConfig configures logging, metrics, and tracing.
type TelemetryConfig struct {
	LogLevel  string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat string `json:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddress string `json:"metrics_address,omitempty"`

	TracingEnabled  bool   `json:"tracing_enabled"`
	TracingEndpoint string `json:"tracing_endpoint,omitempty"`
}

// Default returns the configuration defaults. Target has no default;
// it must come from the config file or the command line.
func Default() *Config {
	return &Config{
		Deploy: DeployConfig{
			MaxIterations:     5,
			PerAttemptTimeout: 30 * time.Minute,
			SubmitTimeout:     2 * time.Minute,
			PollInterval:      5 * time.Second,
			AutoApplyFixes:    true,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "console",
			MetricsAddress: ":9090",
		},
	}
}

// DeployOptions maps the configuration onto orchestrator options.
func (c *Config) DeployOptions() deploy.Options {
	return deploy.Options{
		Target:            c.Target,
		MaxIterations:     c.Deploy.MaxIterations,
		PerAttemptTimeout: c.Deploy.PerAttemptTimeout,
		SubmitTimeout:     c.Deploy.SubmitTimeout,
		PollInterval:      c.Deploy.PollInterval,
		AutoApplyFixes:    c.Deploy.AutoApplyFixes,
		MaxFixesPerPass:   c.Deploy.MaxFixesPerPass,
	}
}
