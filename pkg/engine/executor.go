package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Executor resolves and runs operations depth-first, dependencies first.
// Operations run one at a time on the caller's goroutine.
type Executor struct {
	// registry supplies the operations
	registry *Registry

	// container supplies holder singletons; nil means a fresh container per run
	container *Container

	// publisher receives execution events, may be nil
	publisher EventPublisher

	// tracer records a span per run and per operation
	tracer trace.Tracer

	// logger reports progress
	logger zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithContainer shares c across runs instead of building one per run.
func WithContainer(c *Container) ExecutorOption {
	return func(e *Executor) {
		e.container = c
	}
}

// WithEventPublisher sets the event sink.
func WithEventPublisher(p EventPublisher) ExecutorOption {
	return func(e *Executor) {
		e.publisher = p
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		tracer:   noop.NewTracerProvider().Tracer("infractl/engine"),
		logger:   log.Logger.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState is the bookkeeping of a single Run call.
type runState struct {
	result    *RunResult
	env       EnvContext
	container *Container

	// completed holds operations satisfied in this run, including skips.
	completed map[string]struct{}

	// visited holds operations currently being expanded.
	visited map[string]struct{}

	// path is the active expansion path, for cycle messages.
	path []string
}

// Run executes names, or every registered operation in registration order when
// names is empty, against env. Each root's dependency subtree finishes before
// the next root starts, and an operation runs at most once per call.
//
// The first failure halts the run. The returned RunResult is always non-nil and
// records what completed before the failure.
func (e *Executor) Run(ctx context.Context, env EnvContext, names []string) (*RunResult, error) {
	if len(names) == 0 {
		names = e.registry.Names()
	}

	container := e.container
	if container == nil {
		container = NewContainer()
	}

	st := &runState{
		result: &RunResult{
			ID:          uuid.New().String(),
			Environment: env.Env(),
			Requested:   append([]string(nil), names...),
			Operations:  []OperationResult{},
			Status:      RunStatusRunning,
			StartedAt:   time.Now(),
		},
		env:       env,
		container: container,
		completed: make(map[string]struct{}),
		visited:   make(map[string]struct{}),
	}

	ctx, span := e.tracer.Start(ctx, "infractl.run",
		trace.WithAttributes(
			attribute.String("run.id", st.result.ID),
			attribute.String("environment", string(env.Env())),
			attribute.StringSlice("operations", names),
		))
	defer span.End()

	logger := e.logger.With().Str("run_id", st.result.ID).Str("environment", string(env.Env())).Logger()
	logger.Info().Strs("operations", names).Msg("Run started")
	e.publish(ctx, st, EventTypeRunStarted, "", "Run started", 0, nil)

	var runErr error
	for _, name := range names {
		if err := e.execute(ctx, st, name, logger); err != nil {
			runErr = err
			break
		}
	}

	st.result.CompletedAt = time.Now()
	if runErr != nil {
		st.result.Status = RunStatusFailed
		st.result.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error().Err(runErr).Msg("Run failed")
		e.publish(ctx, st, EventTypeRunFailed, "", fmt.Sprintf("Run failed: %v", runErr), st.result.Duration(), runErr)
		return st.result, runErr
	}

	st.result.Status = RunStatusSucceeded
	span.SetStatus(codes.Ok, "")
	logger.Info().
		Int("succeeded", st.result.Count(OperationSucceeded)).
		Int("skipped", st.result.Count(OperationSkipped)).
		Dur("duration", st.result.Duration()).
		Msg("Run finished")
	e.publish(ctx, st, EventTypeRunCompleted, "", "Run completed", st.result.Duration(), nil)
	return st.result, nil
}

func (e *Executor) execute(ctx context.Context, st *runState, name string, logger zerolog.Logger) error {
	if _, done := st.completed[name]; done {
		return nil
	}

	if _, active := st.visited[name]; active {
		return e.fail(ctx, st, name, time.Now(), NewCycleError(name, append(st.path, name)), logger)
	}
	st.visited[name] = struct{}{}
	st.path = append(st.path, name)

	op, err := e.registry.Lookup(name)
	if err != nil {
		if len(st.path) > 1 {
			var ee *EngineError
			if errors.As(err, &ee) {
				ee.Path = append([]string(nil), st.path...)
			}
		}
		return e.fail(ctx, st, name, time.Now(), err, logger)
	}

	for _, dep := range op.dependsOn {
		if err := e.execute(ctx, st, dep, logger); err != nil {
			return err
		}
	}

	started := time.Now()
	invoke, err := op.handler.Resolve(st.container)
	if err != nil {
		var ee *EngineError
		if errors.As(err, &ee) && ee.Operation == "" {
			ee.Operation = name
		}
		return e.fail(ctx, st, name, started, err, logger)
	}

	if !op.targetEnvs.Includes(st.env.Env()) {
		logger.Info().
			Str("operation", name).
			Strs("target_envs", op.targetEnvs.Strings()).
			Msg("Skipping operation (not targeted for environment)")
		st.result.Operations = append(st.result.Operations, OperationResult{
			Name:      name,
			Status:    OperationSkipped,
			StartedAt: started,
		})
		e.publish(ctx, st, EventTypeOperationSkipped, name, "Operation skipped", 0, nil)
		e.markCompleted(st, name)
		return nil
	}

	if err := ctx.Err(); err != nil {
		cerr := NewExecutionError(fmt.Sprintf("run cancelled before %q", name), err).
			WithOperation(name).
			WithCode(ErrCodeCancelled)
		return e.fail(ctx, st, name, started, cerr, logger)
	}

	opCtx, span := e.tracer.Start(ctx, "infractl.operation",
		trace.WithAttributes(
			attribute.String("operation.name", name),
			attribute.String("handler.kind", string(op.handler.Kind())),
		))

	logger.Info().Str("operation", name).Msg("Running operation")
	e.publish(opCtx, st, EventTypeOperationStarted, name, "Operation started", 0, nil)

	if err := callHandler(opCtx, invoke, st.env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		xerr := NewExecutionError(fmt.Sprintf("failed during execution of %q", name), err).
			WithOperation(name).
			WithCode(ErrCodeHandlerFailed)
		return e.fail(ctx, st, name, started, xerr, logger)
	}
	span.SetStatus(codes.Ok, "")
	span.End()

	duration := time.Since(started)
	logger.Info().Str("operation", name).Dur("duration", duration).Msg("Finished operation")
	st.result.Operations = append(st.result.Operations, OperationResult{
		Name:      name,
		Status:    OperationSucceeded,
		StartedAt: started,
		Duration:  duration,
	})
	e.publish(ctx, st, EventTypeOperationCompleted, name, "Operation completed", duration, nil)
	e.markCompleted(st, name)
	return nil
}

func (e *Executor) markCompleted(st *runState, name string) {
	st.completed[name] = struct{}{}
	delete(st.visited, name)
	st.path = st.path[:len(st.path)-1]
}

func (e *Executor) fail(ctx context.Context, st *runState, name string, started time.Time, err error, logger zerolog.Logger) error {
	duration := time.Since(started)
	logger.Error().Err(err).Str("operation", name).Msg("Operation failed")
	st.result.Operations = append(st.result.Operations, OperationResult{
		Name:      name,
		Status:    OperationFailed,
		StartedAt: started,
		Duration:  duration,
		Error:     err.Error(),
	})
	e.publish(ctx, st, EventTypeOperationFailed, name, "Operation failed", duration, err)
	return err
}

// callHandler invokes fn, converting a panic into an error.
func callHandler(ctx context.Context, fn Invocation, env EnvContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx, env)
}

func (e *Executor) publish(ctx context.Context, st *runState, typ EventType, operation, message string, duration time.Duration, err error) {
	if e.publisher == nil {
		return
	}

	event := &Event{
		ID:          uuid.New().String(),
		Type:        typ,
		Timestamp:   time.Now(),
		RunID:       st.result.ID,
		Environment: st.result.Environment,
		Operation:   operation,
		Message:     message,
		Duration:    duration,
		Err:         err,
	}

	if perr := e.publisher.Publish(ctx, event); perr != nil {
		e.logger.Warn().Err(perr).Str("event", string(typ)).Msg("Failed to publish event")
	}
}
