package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/infractl/pkg/engine"
)

// Metrics provides Prometheus metrics for infractl runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	// Operation metrics
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
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
				Help:      "Total number of finished runs",
			},
			[]string{"environment", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"environment", "status"},
		),

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of operations by outcome",
			},
			[]string{"environment", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operation handlers in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by kind",
			},
			[]string{"kind"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.operationsTotal,
		m.operationDuration,
		m.errorsByKind,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(env, status string, duration time.Duration) {
	if m.runsTotal == nil {
		return
	}
	m.runsTotal.WithLabelValues(env, status).Inc()
	m.runDuration.WithLabelValues(env, status).Observe(duration.Seconds())
}

// RecordOperation records one operation outcome. Skipped operations have no duration.
func (m *Metrics) RecordOperation(env, operation, status string, duration time.Duration) {
	if m.operationsTotal == nil {
		return
	}
	m.operationsTotal.WithLabelValues(env, status).Inc()
	if status != string(engine.OperationSkipped) {
		m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordError records an error by its classification.
func (m *Metrics) RecordError(err error) {
	if m.errorsByKind == nil || err == nil {
		return
	}
	kind := string(engine.KindOf(err))
	if kind == "" {
		kind = "unclassified"
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Publish implements engine.EventPublisher by turning terminal events into metrics.
func (m *Metrics) Publish(_ context.Context, event *engine.Event) error {
	env := string(event.Environment)

	switch event.Type {
	case engine.EventTypeRunCompleted:
		m.RecordRun(env, string(engine.RunStatusSucceeded), event.Duration)
	case engine.EventTypeRunFailed:
		m.RecordRun(env, string(engine.RunStatusFailed), event.Duration)
		m.RecordError(event.Err)
	case engine.EventTypeOperationCompleted:
		m.RecordOperation(env, event.Operation, string(engine.OperationSucceeded), event.Duration)
	case engine.EventTypeOperationSkipped:
		m.RecordOperation(env, event.Operation, string(engine.OperationSkipped), 0)
	case engine.EventTypeOperationFailed:
		m.RecordOperation(env, event.Operation, string(engine.OperationFailed), event.Duration)
	}
	return nil
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics in the text exposition format for
// the node-exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		path = m.config.Textfile
	}
	if path == "" || m.registry == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
