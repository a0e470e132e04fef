package engine

import (
	"encoding/json"
	"fmt"
)

// Environment is a deployment environment an operation can target.
type Environment string

const (
	// EnvLocal is a developer machine running against a local cloud emulator.
	EnvLocal Environment = "local"

	// EnvStage is the shared staging account.
	EnvStage Environment = "stage"

	// EnvProd is the production account.
	EnvProd Environment = "prod"
)

// Environments lists every known environment in declaration order.
func Environments() []Environment {
	return []Environment{EnvLocal, EnvStage, EnvProd}
}

// String implements fmt.Stringer.
func (e Environment) String() string {
	return string(e)
}

// Validate checks if the environment is one of the known environments.
func (e Environment) Validate() error {
	switch e {
	case EnvLocal, EnvStage, EnvProd:
		return nil
	default:
		return fmt.Errorf("invalid environment: %q (must be one of local, stage, prod)", string(e))
	}
}

// ParseEnvironment converts a string to an Environment.
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(s)
	if err := env.Validate(); err != nil {
		return "", NewConfigurationError("unknown environment", err).WithCode(ErrCodeValidation)
	}
	return env, nil
}

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every requested operation completed or was skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run halted on an error.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// OperationStatus represents the outcome of a single operation within a run.
type OperationStatus string

const (
	// OperationSucceeded indicates the handler ran and returned without error.
	OperationSucceeded OperationStatus = "succeeded"

	// OperationSkipped indicates the operation does not target the run's environment.
	OperationSkipped OperationStatus = "skipped"

	// OperationFailed indicates the handler returned an error or could not be dispatched.
	OperationFailed OperationStatus = "failed"
)

// IsCompleted returns true if dependents of the operation may proceed.
func (s OperationStatus) IsCompleted() bool {
	return s == OperationSucceeded || s == OperationSkipped
}

// Validate checks if the operation status is valid.
func (s OperationStatus) Validate() error {
	switch s {
	case OperationSucceeded, OperationSkipped, OperationFailed:
		return nil
	default:
		return fmt.Errorf("invalid operation status: %s", s)
	}
}

// StepAction is what a plan intends to do with an operation.
type StepAction string

const (
	// StepRun means the handler will be invoked.
	StepRun StepAction = "run"

	// StepSkip means the operation does not target the environment.
	StepSkip StepAction = "skip"
)

// EventType represents the type of event in the execution timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run.started"

	// EventTypeRunCompleted indicates a run has completed.
	EventTypeRunCompleted EventType = "run.completed"

	// EventTypeRunFailed indicates a run has failed.
	EventTypeRunFailed EventType = "run.failed"

	// EventTypeOperationStarted indicates a handler is about to be invoked.
	EventTypeOperationStarted EventType = "operation.started"

	// EventTypeOperationCompleted indicates a handler returned successfully.
	EventTypeOperationCompleted EventType = "operation.completed"

	// EventTypeOperationSkipped indicates an operation was gated by environment.
	EventTypeOperationSkipped EventType = "operation.skipped"

	// EventTypeOperationFailed indicates an operation failed.
	EventTypeOperationFailed EventType = "operation.failed"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeOperationFailed:
		return "error"
	default:
		return "info"
	}
}
