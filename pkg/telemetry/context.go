package telemetry

import (
	"context"
	"errors"

	"github.com/openfroyo/infractl/pkg/engine"
)

// Telemetry bundles logging, tracing, metrics and events for one CLI invocation.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
// Execution events are forwarded to the metrics collector and, at debug level, to the logger.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events := NewEventPublisher()
	events.SubscribePublisher(metrics, nil)
	events.Subscribe(LogSubscriber(logger.NewComponentLogger("events")), nil)

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// ExecutorOptions returns the engine options that route a run through this telemetry.
func (t *Telemetry) ExecutorOptions() []engine.ExecutorOption {
	return []engine.ExecutorOption{
		engine.WithLogger(t.Logger.NewComponentLogger("executor").Zerolog()),
		engine.WithEventPublisher(t.Events),
		engine.WithTracer(t.Tracer.Tracer()),
	}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown writes the metrics textfile, if configured, and flushes the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Metrics.WriteTextfile(""),
		t.Tracer.Shutdown(ctx),
	)
}
