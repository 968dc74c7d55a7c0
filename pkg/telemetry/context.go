package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics, and events behind one
// handle that travels through the context.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the
// context, or nil when none is present.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer(t.Logger)
}

// runSpanKey carries the run span through the context.
type runSpanKey struct{}

// runStartKey carries the run start time through the context.
type runStartKey struct{}

// WithRunContext opens a run span, records the run start, and returns a
// context carrying both.
func WithRunContext(ctx context.Context, runID, target string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, target)
	ctx = context.WithValue(ctx, runSpanKey{}, span)
	ctx = context.WithValue(ctx, runStartKey{}, time.Now())

	tel.Metrics.RecordRunStarted()
	_ = tel.Events.PublishRunStarted(runID, target)

	return ctx
}

// EndRunContext closes the run span and records the outcome.
func EndRunContext(ctx context.Context, runID string, success bool, attempts int, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	var duration time.Duration
	if start, ok := ctx.Value(runStartKey{}).(time.Time); ok {
		duration = time.Since(start)
	}
	tel.Metrics.RecordRunDuration(success, duration)
	_ = tel.Events.PublishRunCompleted(runID, success, attempts, duration)

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		span.SetAttributes(
			attribute.Bool("run.success", success),
			attribute.Int("run.attempts", attempts),
		)
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}
}

// endSpan finalizes a span with the outcome of the work it covered.
func endSpan(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}
}

// StartPhaseSpan opens a span covering one pipeline phase (analyze,
// fix, submit, poll). The returned function records the phase outcome
// and ends the span; both are no-ops when the context carries no
// telemetry.
func StartPhaseSpan(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx, func(error) {}
	}
	ctx, span := tel.Tracer.StartSpan(ctx, phase, attrs...)
	return ctx, endSpan(span)
}

// StartAttemptContext opens the span covering one deployment attempt.
func StartAttemptContext(ctx context.Context, runID string, attempt int) (context.Context, func(error)) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx, func(error) {}
	}
	ctx, span := tel.Tracer.StartAttemptSpan(ctx, runID, attempt)
	return ctx, endSpan(span)
}

// RecordGatewayOperation times one gateway call and records its metrics
// and span.
func RecordGatewayOperation(ctx context.Context, operation, target string, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.StartGatewaySpan(ctx, operation, target)
	defer span.End()

	timer := NewTimer()
	err := fn(ctx)
	tel.Metrics.RecordGatewayCall(operation, timer.Duration())

	if err != nil {
		tel.Metrics.RecordGatewayError(operation)
		RecordError(span, err)
		return err
	}
	RecordSuccess(span)
	return nil
}
