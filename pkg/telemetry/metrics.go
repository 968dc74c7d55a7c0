package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the StackMend engine. The
// zero-field instance produced when metrics are disabled is a no-op; all
// recording methods nil-check their collectors.
type Metrics struct {
	config MetricsConfig

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	attemptsTotal *prometheus.CounterVec

	fixesTotal  *prometheus.CounterVec
	issuesTotal *prometheus.CounterVec

	pollDuration prometheus.Histogram

	gatewayCalls    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of remediation runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of remediation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of deployment attempts by status",
			},
			[]string{"status"},
		),
		fixesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fixes_applied_total",
				Help:      "Total number of fixes applied by kind and confidence",
			},
			[]string{"kind", "confidence"},
		),
		issuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "issues_detected_total",
				Help:      "Total number of issues detected by kind and severity",
			},
			[]string{"kind", "severity"},
		),
		pollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Time spent polling for a terminal stack state per attempt",
				Buckets:   buckets,
			},
		),
		gatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Total number of provisioning gateway calls",
			},
			[]string{"operation"},
		),
		gatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Duration of provisioning gateway calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		gatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_errors_total",
				Help:      "Total number of provisioning gateway errors",
			},
			[]string{"operation"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active remediation runs",
			},
		),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.attemptsTotal,
		m.fixesTotal,
		m.issuesTotal,
		m.pollDuration,
		m.gatewayCalls,
		m.gatewayDuration,
		m.gatewayErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
	)

	return m, nil
}

// RecordRunStarted marks a run as active.
func (m *Metrics) RecordRunStarted() {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Inc()
}

// RecordRun records a completed run.
func (m *Metrics) RecordRun(success bool) {
	if m.runsTotal == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.activeRuns.Dec()
}

// RecordRunDuration records a completed run's duration.
func (m *Metrics) RecordRunDuration(success bool, duration time.Duration) {
	if m.runDuration == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAttempt records one deployment attempt by terminal status.
func (m *Metrics) RecordAttempt(status string) {
	if m.attemptsTotal == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(status).Inc()
}

// RecordFix records one applied fix.
func (m *Metrics) RecordFix(kind, confidence string) {
	if m.fixesTotal == nil {
		return
	}
	m.fixesTotal.WithLabelValues(kind, confidence).Inc()
}

// RecordIssue records one detected issue.
func (m *Metrics) RecordIssue(kind, severity string) {
	if m.issuesTotal == nil {
		return
	}
	m.issuesTotal.WithLabelValues(kind, severity).Inc()
}

// ObservePollDuration records how long one attempt polled for a terminal
// state.
func (m *Metrics) ObservePollDuration(d time.Duration) {
	if m.pollDuration == nil {
		return
	}
	m.pollDuration.Observe(d.Seconds())
}

// RecordGatewayCall records a gateway call with its duration.
func (m *Metrics) RecordGatewayCall(operation string, duration time.Duration) {
	if m.gatewayCalls == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(operation).Inc()
	m.gatewayDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordGatewayError records a gateway error.
func (m *Metrics) RecordGatewayError(operation string) {
	if m.gatewayErrors == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(operation).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer times one operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics
// endpoint. Server errors are logged to stderr, never fatal.
func (m *Metrics) StartMetricsServer(logger *Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	return nil
}
