package engine

import (
	"encoding/json"
	"slices"
	"time"
)

// TargetEnvs describes which environments an operation applies to.
// The zero value targets no environment at all: such an operation is always skipped.
type TargetEnvs struct {
	all  bool
	envs []Environment
}

// AllEnvironments returns the sentinel that targets every environment.
func AllEnvironments() TargetEnvs {
	return TargetEnvs{all: true}
}

// OnlyEnvironments returns a TargetEnvs restricted to the given environments.
// Duplicates are dropped; order is preserved.
func OnlyEnvironments(envs ...Environment) TargetEnvs {
	t := TargetEnvs{envs: make([]Environment, 0, len(envs))}
	for _, env := range envs {
		if !slices.Contains(t.envs, env) {
			t.envs = append(t.envs, env)
		}
	}
	return t
}

// IsAll reports whether this is the "all" sentinel.
func (t TargetEnvs) IsAll() bool {
	return t.all
}

// IsUnset reports whether no environment was specified.
func (t TargetEnvs) IsUnset() bool {
	return !t.all && len(t.envs) == 0
}

// List returns a copy of the explicit environments. It is nil for the sentinel.
func (t TargetEnvs) List() []Environment {
	if t.all {
		return nil
	}
	return slices.Clone(t.envs)
}

// Includes reports whether an operation with these targets runs in env.
func (t TargetEnvs) Includes(env Environment) bool {
	return t.all || slices.Contains(t.envs, env)
}

// Strings returns the targets in their textual form, ["all"] for the sentinel.
func (t TargetEnvs) Strings() []string {
	if t.all {
		return []string{"all"}
	}
	out := make([]string, len(t.envs))
	for i, env := range t.envs {
		out[i] = string(env)
	}
	return out
}

// MarshalJSON renders the sentinel as "all" and explicit targets as a list.
func (t TargetEnvs) MarshalJSON() ([]byte, error) {
	if t.all {
		return json.Marshal("all")
	}
	return json.Marshal(t.Strings())
}

// Operation is an immutable, registered unit of infrastructure work.
type Operation struct {
	name        string
	description string
	handler     Handler
	targetEnvs  TargetEnvs
	dependsOn   []string
}

// Name returns the operation's unique name.
func (o Operation) Name() string {
	return o.name
}

// Description returns the human-readable description.
func (o Operation) Description() string {
	return o.description
}

// Handler returns the dispatch target of the operation.
func (o Operation) Handler() Handler {
	return o.handler
}

// TargetEnvs returns the environments the operation applies to.
func (o Operation) TargetEnvs() TargetEnvs {
	return o.targetEnvs.clone()
}

// DependsOn returns a copy of the dependency names, in listed order.
func (o Operation) DependsOn() []string {
	return slices.Clone(o.dependsOn)
}

func (t TargetEnvs) clone() TargetEnvs {
	return TargetEnvs{all: t.all, envs: slices.Clone(t.envs)}
}

// OperationInfo is the serializable view of an Operation.
type OperationInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Handler     string     `json:"handler"`
	TargetEnvs  TargetEnvs `json:"target_envs"`
	DependsOn   []string   `json:"depends_on"`
}

// Info returns the serializable view of the operation.
func (o Operation) Info() OperationInfo {
	return OperationInfo{
		Name:        o.name,
		Description: o.description,
		Handler:     describeHandler(o.handler),
		TargetEnvs:  o.TargetEnvs(),
		DependsOn:   o.DependsOn(),
	}
}

// OperationResult is the outcome of one operation within a run.
type OperationResult struct {
	// Name is the operation name.
	Name string `json:"name"`

	// Status is the final status of the operation.
	Status OperationStatus `json:"status"`

	// StartedAt is when the resolver reached the operation's own handler.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the handler took. Zero for skipped operations.
	Duration time.Duration `json:"duration"`

	// Error is the failure message, if any.
	Error string `json:"error,omitempty"`
}

// RunResult captures a complete executor run.
type RunResult struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// Environment is the environment the run targeted.
	Environment Environment `json:"environment"`

	// Requested lists the root operations, after expanding "run everything".
	Requested []string `json:"requested"`

	// Operations lists per-operation outcomes in the order they finished.
	Operations []OperationResult `json:"operations"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Error is the failure message that halted the run, if any.
	Error string `json:"error,omitempty"`
}

// Completed returns the names of operations that completed, including skips.
func (r *RunResult) Completed() []string {
	names := make([]string, 0, len(r.Operations))
	for _, op := range r.Operations {
		if op.Status.IsCompleted() {
			names = append(names, op.Name)
		}
	}
	return names
}

// Count returns the number of operations with the given status.
func (r *RunResult) Count(status OperationStatus) int {
	n := 0
	for _, op := range r.Operations {
		if op.Status == status {
			n++
		}
	}
	return n
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Event is a point on the execution timeline of a run.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the run the event belongs to.
	RunID string `json:"run_id"`

	// Environment is the run's environment.
	Environment Environment `json:"environment"`

	// Operation is the operation name, empty for run-level events.
	Operation string `json:"operation,omitempty"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Duration is set on completion events.
	Duration time.Duration `json:"duration,omitempty"`

	// Err is set on failure events.
	Err error `json:"-"`
}

// Level returns the severity level of the event.
func (e *Event) Level() string {
	return e.Type.Severity()
}
