package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/infractl/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var (
	_ Store                 = (*SQLiteStore)(nil)
	_ engine.EventPublisher = (*SQLiteStore)(nil)
)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := s.cfg.Path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveRun records a finished run and its per-operation outcomes in one
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *engine.RunResult) error {
	requested, err := json.Marshal(result.Requested)
	if err != nil {
		return fmt.Errorf("failed to encode requested operations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var completedAt *time.Time
	if !result.CompletedAt.IsZero() {
		completedAt = &result.CompletedAt
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, environment, requested, status, started_at, completed_at, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID,
		string(result.Environment),
		string(requested),
		string(result.Status),
		result.StartedAt,
		completedAt,
		nullString(result.Error),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO operation_results (run_id, position, name, status, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare operation insert: %w", err)
	}
	defer stmt.Close()

	for i, op := range result.Operations {
		var startedAt *time.Time
		if !op.StartedAt.IsZero() {
			t := op.StartedAt
			startedAt = &t
		}
		if _, err := stmt.ExecContext(ctx,
			result.ID,
			i,
			op.Name,
			string(op.Status),
			startedAt,
			op.Duration.Milliseconds(),
			nullString(op.Error),
		); err != nil {
			return fmt.Errorf("failed to record operation %s: %w", op.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, environment, requested, status, started_at, completed_at, error, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var requested string
	if err := row.Scan(
		&run.ID,
		&run.Environment,
		&requested,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(requested), &run.Requested); err != nil {
		return nil, fmt.Errorf("failed to decode requested operations: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, most recent first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run with its operation results and events
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run events: %w", err)
	}

	return tx.Commit()
}

// PruneRuns keeps the most recent keep runs and deletes the rest, returning
// the number of runs removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id NOT IN (SELECT id FROM runs)`); err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return removed, nil
}

// ListOperationResults lists the operation outcomes of a run in the order
// they finished.
func (s *SQLiteStore) ListOperationResults(ctx context.Context, runID string) ([]*OperationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, position, name, status, started_at, duration_ms, error
		FROM operation_results
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operation results: %w", err)
	}
	defer rows.Close()

	results := []*OperationResult{}
	for rows.Next() {
		r := &OperationResult{}
		var durationMs int64
		if err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Position,
			&r.Name,
			&r.Status,
			&r.StartedAt,
			&durationMs,
			&r.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan operation result: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation results: %w", err)
	}

	return results, nil
}

// AppendEvent appends an execution event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *engine.Event) error {
	var errMsg string
	if event.Err != nil {
		errMsg = event.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, run_id, type, level, environment, operation, message, duration_ms, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.RunID,
		string(event.Type),
		event.Level(),
		string(event.Environment),
		nullString(event.Operation),
		event.Message,
		event.Duration.Milliseconds(),
		nullString(errMsg),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// Publish implements engine.EventPublisher by appending the event.
func (s *SQLiteStore) Publish(ctx context.Context, event *engine.Event) error {
	return s.AppendEvent(ctx, event)
}

// ListEvents lists the events of a run in insertion order.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, run_id, type, level, environment, operation, message, duration_ms, error, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e := &Event{}
		var durationMs int64
		if err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.RunID,
			&e.Type,
			&e.Level,
			&e.Environment,
			&e.Operation,
			&e.Message,
			&durationMs,
			&e.Error,
			&e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
