package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// fileConfig mirrors Config with durations as strings, the form they
// take in config files.
type fileConfig struct {
	Target string `json:"target"`
	Region string `json:"region"`

	Deploy struct {
		MaxIterations     int    `json:"max_iterations"`
		PerAttemptTimeout string `json:"per_attempt_timeout"`
		SubmitTimeout     string `json:"submit_timeout"`
		PollInterval      string `json:"poll_interval"`
		AutoApplyFixes    *bool  `json:"auto_apply_fixes"`
		MaxFixesPerPass   int    `json:"max_fixes_per_pass"`
	} `json:"deploy"`

	Analyzer AnalyzerConfig `json:"analyzer"`
	Store    StoreConfig    `json:"store"`

	Telemetry struct {
		LogLevel        string `json:"log_level"`
		LogFormat       string `json:"log_format"`
		MetricsEnabled  bool   `json:"metrics_enabled"`
		MetricsAddress  string `json:"metrics_address"`
		TracingEnabled  bool   `json:"tracing_enabled"`
		TracingEndpoint string `json:"tracing_endpoint"`
	} `json:"telemetry"`
}

// Parser loads and validates CUE configuration.
type Parser struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewParser creates a parser with the built-in schema compiled.
func NewParser() (*Parser, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(builtinConfigSchema)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}

	return &Parser{
		ctx:       ctx,
		schema:    schema.LookupPath(cue.ParsePath("#Config")),
		validator: validator.New(),
	}, nil
}

// Load reads, schema-checks, and validates a config file.
func (p *Parser) Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return p.LoadString(string(content), path)
}

// LoadString parses config from a string. The filename is used in
// error positions only.
func (p *Parser) LoadString(content, filename string) (*Config, error) {
	val := p.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %s", cueerrors.Details(err, nil))
	}

	unified := p.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("config does not satisfy schema: %s", cueerrors.Details(err, nil))
	}

	var fc fileConfig
	if err := unified.Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg, err := fc.resolve()
	if err != nil {
		return nil, err
	}

	if err := p.validator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// resolve merges the file values over the defaults.
func (fc *fileConfig) resolve() (*Config, error) {
	cfg := Default()

	cfg.Target = fc.Target
	cfg.Region = fc.Region
	cfg.Analyzer = fc.Analyzer
	cfg.Store = fc.Store

	if fc.Deploy.MaxIterations > 0 {
		cfg.Deploy.MaxIterations = fc.Deploy.MaxIterations
	}
	if fc.Deploy.MaxFixesPerPass > 0 {
		cfg.Deploy.MaxFixesPerPass = fc.Deploy.MaxFixesPerPass
	}
	if fc.Deploy.AutoApplyFixes != nil {
		cfg.Deploy.AutoApplyFixes = *fc.Deploy.AutoApplyFixes
	}

	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.Deploy.PerAttemptTimeout, "deploy.per_attempt_timeout", &cfg.Deploy.PerAttemptTimeout},
		{fc.Deploy.SubmitTimeout, "deploy.submit_timeout", &cfg.Deploy.SubmitTimeout},
		{fc.Deploy.PollInterval, "deploy.poll_interval", &cfg.Deploy.PollInterval},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", d.name, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("duration for %s must be positive", d.name)
		}
		*d.dst = parsed
	}

	if fc.Telemetry.LogLevel != "" {
		cfg.Telemetry.LogLevel = fc.Telemetry.LogLevel
	}
	if fc.Telemetry.LogFormat != "" {
		cfg.Telemetry.LogFormat = fc.Telemetry.LogFormat
	}
	cfg.Telemetry.MetricsEnabled = fc.Telemetry.MetricsEnabled
	if fc.Telemetry.MetricsAddress != "" {
		cfg.Telemetry.MetricsAddress = fc.Telemetry.MetricsAddress
	}
	cfg.Telemetry.TracingEnabled = fc.Telemetry.TracingEnabled
	cfg.Telemetry.TracingEndpoint = fc.Telemetry.TracingEndpoint

	return cfg, nil
}
