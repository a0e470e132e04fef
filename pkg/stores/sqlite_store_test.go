package stores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/infractl/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func sampleRun(id string, started time.Time) *engine.RunResult {
	return &engine.RunResult{
		ID:          id,
		Environment: engine.EnvStage,
		Requested:   []string{"deploy"},
		Status:      engine.RunStatusFailed,
		StartedAt:   started,
		CompletedAt: started.Add(3 * time.Second),
		Error:       "operation deploy failed",
		Operations: []engine.OperationResult{
			{Name: "network", Status: engine.OperationSucceeded, StartedAt: started, Duration: 1500 * time.Millisecond},
			{Name: "seed", Status: engine.OperationSkipped},
			{Name: "deploy", Status: engine.OperationFailed, StartedAt: started.Add(2 * time.Second), Duration: 250 * time.Millisecond, Error: "boom"},
		},
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("expected health check to fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Fatal("expected migrate to fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "operation_results", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SaveRun(ctx, sampleRun("run-001", started)); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	run, err := store.GetRun(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if run.Environment != "stage" {
		t.Errorf("expected environment stage, got %s", run.Environment)
	}
	if run.Status != engine.RunStatusFailed {
		t.Errorf("expected status failed, got %s", run.Status)
	}
	if len(run.Requested) != 1 || run.Requested[0] != "deploy" {
		t.Errorf("unexpected requested %v", run.Requested)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("expected started %v, got %v", started, run.StartedAt)
	}
	if run.CompletedAt == nil || run.Duration() != 3*time.Second {
		t.Errorf("expected 3s duration, got %v", run.Duration())
	}
	if run.Error == nil || *run.Error != "operation deploy failed" {
		t.Errorf("unexpected error %v", run.Error)
	}

	ops, err := store.ListOperationResults(ctx, "run-001")
	if err != nil {
		t.Fatalf("failed to list operation results: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 operation results, got %d", len(ops))
	}
	for i, want := range []string{"network", "seed", "deploy"} {
		if ops[i].Name != want || ops[i].Position != i {
			t.Errorf("result %d: expected %s, got %s at %d", i, want, ops[i].Name, ops[i].Position)
		}
	}
	if ops[0].Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", ops[0].Duration)
	}
	if ops[1].Status != engine.OperationSkipped || ops[1].StartedAt != nil || ops[1].Error != nil {
		t.Errorf("unexpected skipped result %+v", ops[1])
	}
	if ops[2].Error == nil || *ops[2].Error != "boom" {
		t.Errorf("unexpected failure result %+v", ops[2])
	}

	if err := store.SaveRun(ctx, sampleRun("run-001", started)); err == nil {
		t.Error("expected duplicate run id to fail")
	}

	_, err = store.GetRun(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.SaveRun(ctx, sampleRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("failed to save run %d: %v", i, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-4" || runs[1].ID != "run-3" {
		t.Fatalf("expected newest runs first, got %v", runIDs(runs))
	}

	all, err := store.ListRuns(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("expected all 5 runs without a limit, got %d", len(all))
	}

	removed, err := store.PruneRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to prune runs: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 runs removed, got %d", removed)
	}

	ops, err := store.ListOperationResults(ctx, "run-0")
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 0 {
		t.Errorf("expected operation results to cascade, got %d", len(ops))
	}

	if err := store.DeleteRun(ctx, "run-4"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.PruneRuns(ctx, -1); err == nil {
		t.Error("expected error for negative keep")
	}
}

func runIDs(runs []*Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	events := []*engine.Event{
		{ID: "e1", Type: engine.EventTypeRunStarted, RunID: "run-1", Environment: engine.EnvLocal, Message: "started", Timestamp: now},
		{ID: "e2", Type: engine.EventTypeOperationFailed, RunID: "run-1", Environment: engine.EnvLocal, Operation: "deploy",
			Message: "failed", Duration: 2 * time.Second, Err: errors.New("boom"), Timestamp: now},
		{ID: "e3", Type: engine.EventTypeRunStarted, RunID: "run-2", Environment: engine.EnvLocal, Message: "started", Timestamp: now},
	}
	for _, e := range events {
		if err := store.Publish(ctx, e); err != nil {
			t.Fatalf("failed to publish event: %v", err)
		}
	}

	got, err := store.ListEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Operation != nil || got[0].Level != "info" {
		t.Errorf("unexpected run event %+v", got[0])
	}
	failed := got[1]
	if failed.Operation == nil || *failed.Operation != "deploy" {
		t.Errorf("expected operation deploy, got %v", failed.Operation)
	}
	if failed.Level != "error" || failed.Error == nil || *failed.Error != "boom" {
		t.Errorf("unexpected failure event %+v", failed)
	}
	if failed.Duration != 2*time.Second {
		t.Errorf("expected 2s, got %v", failed.Duration)
	}

	// Events of pruned runs go too.
	if err := store.SaveRun(ctx, sampleRun("run-1", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.PruneRuns(ctx, 0); err != nil {
		t.Fatal(err)
	}
	left, err := store.ListEvents(ctx, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("expected orphaned events pruned, got %d", len(left))
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open file store: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetRun(ctx, "run-1"); err != nil {
		t.Errorf("run should survive reopen: %v", err)
	}
}
