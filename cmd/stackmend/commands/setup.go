package commands

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/stackmend/stackmend/pkg/config"
	"github.com/stackmend/stackmend/pkg/stores"
	"github.com/stackmend/stackmend/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// setupTelemetry builds the telemetry stack from the engine config and
// starts the metrics server when enabled.
func setupTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	telCfg := telemetry.DefaultConfig()

	if cfg.Telemetry.LogLevel != "" {
		telCfg.Logging.Level = cfg.Telemetry.LogLevel
	}
	if cfg.Telemetry.LogFormat != "" {
		telCfg.Logging.Format = cfg.Telemetry.LogFormat
	}
	telCfg.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	if cfg.Telemetry.MetricsAddress != "" {
		telCfg.Metrics.ListenAddress = cfg.Telemetry.MetricsAddress
	}
	telCfg.Tracing.Enabled = cfg.Telemetry.TracingEnabled
	if cfg.Telemetry.TracingEndpoint != "" {
		telCfg.Tracing.Exporter = "otlp"
		telCfg.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint
	}

	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, err
	}

	if telCfg.Metrics.Enabled {
		if err := tel.StartMetricsServer(); err != nil {
			return nil, err
		}
	}
	return tel, nil
}

// loadAWSConfig resolves AWS credentials and region from the ambient
// environment, with the config file's region taking precedence.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// openStore opens and migrates the audit database.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
