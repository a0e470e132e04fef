package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/infractl/pkg/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run represents a recorded executor run
type Run struct {
	ID          string           `json:"id"`
	Environment string           `json:"environment"`
	Requested   []string         `json:"requested"`
	Status      engine.RunStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       *string          `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Duration returns the wall time of the run, zero if it never completed.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// OperationResult is the recorded outcome of one operation within a run
type OperationResult struct {
	ID        int64                  `json:"id"`
	RunID     string                 `json:"run_id"`
	Position  int                    `json:"position"`
	Name      string                 `json:"name"`
	Status    engine.OperationStatus `json:"status"`
	StartedAt *time.Time             `json:"started_at,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Error     *string                `json:"error,omitempty"`
}

// Event is a persisted execution event
type Event struct {
	ID          int64            `json:"id"`
	EventID     string           `json:"event_id"`
	RunID       string           `json:"run_id"`
	Type        engine.EventType `json:"type"`
	Level       string           `json:"level"`
	Environment string           `json:"environment"`
	Operation   *string          `json:"operation,omitempty"`
	Message     string           `json:"message"`
	Duration    time.Duration    `json:"duration"`
	Error       *string          `json:"error,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Store defines the interface for run history persistence
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Runs
	SaveRun(ctx context.Context, result *engine.RunResult) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Operation results
	ListOperationResults(ctx context.Context, runID string) ([]*OperationResult, error)

	// Events
	AppendEvent(ctx context.Context, event *engine.Event) error
	ListEvents(ctx context.Context, runID string) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
