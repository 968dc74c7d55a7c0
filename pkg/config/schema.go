package config

// builtinConfigSchema constrains config files before decoding. Duration
// fields are strings in Go duration syntax.
const builtinConfigSchema = `
#Config: {
	target:  string & !=""
	region?: string

	deploy?: {
		max_iterations?:      int & >=1 & <=25
		per_attempt_timeout?: string
		submit_timeout?:      string
		poll_interval?:       string
		auto_apply_fixes?:    bool
		max_fixes_per_pass?:  int & >=0
	}

	analyzer?: {
		policy_paths?:      [...string]
		disabled_policies?: [...string]
	}

	store?: {
		path?: string
	}

	telemetry?: {
		log_level?:        "trace" | "debug" | "info" | "warn" | "error"
		log_format?:       "console" | "json"
		metrics_enabled?:  bool
		metrics_address?:  string
		tracing_enabled?:  bool
		tracing_endpoint?: string
	}
}
`
