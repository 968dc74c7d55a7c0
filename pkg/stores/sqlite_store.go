package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/stackmend/stackmend/pkg/deploy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ deploy.AuditStore = (*SQLiteStore)(nil)

// SQLiteStore persists the deployment audit trail in SQLite. It
// implements deploy.AuditStore.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

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

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// HealthCheck verifies the database connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
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

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveRun persists the final state of a run. The row is upserted: the
// orchestrator writes it once, at the end of the run, but a crash-retry
// must not fail on the conflict.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *deploy.Result) error {
	if result == nil {
		return fmt.Errorf("result is required")
	}

	fixes, err := json.Marshal(result.FixesApplied)
	if err != nil {
		return fmt.Errorf("failed to marshal fixes: %w", err)
	}

	var finalTemplate *string
	if result.FinalTemplate != nil {
		body, err := result.FinalTemplate.JSON()
		if err != nil {
			return fmt.Errorf("failed to serialize final template: %w", err)
		}
		str := string(body)
		finalTemplate = &str
	}

	var errMsg *string
	if result.ErrorMessage != "" {
		errMsg = &result.ErrorMessage
	}

	var completedAt *time.Time
	if !result.CompletedAt.IsZero() {
		completedAt = &result.CompletedAt
	}

	query := `
		INSERT INTO runs (id, target, success, state, error, fixes, final_template, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			success = excluded.success,
			state = excluded.state,
			error = excluded.error,
			fixes = excluded.fixes,
			final_template = excluded.final_template,
			completed_at = excluded.completed_at,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.ExecContext(ctx, query,
		result.RunID,
		result.Target,
		result.Success,
		string(result.State),
		errMsg,
		string(fixes),
		finalTemplate,
		result.StartedAt,
		completedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// SaveAttempt persists one attempt. Attempts are append-only; writing
// the same (run, number) twice is an error.
func (s *SQLiteStore) SaveAttempt(ctx context.Context, runID string, attempt *deploy.Attempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt is required")
	}

	var body string
	if attempt.Template != nil {
		b, err := attempt.Template.JSON()
		if err != nil {
			return fmt.Errorf("failed to serialize attempt template: %w", err)
		}
		body = string(b)
	}

	fixes, err := json.Marshal(attempt.FixesApplied)
	if err != nil {
		return fmt.Errorf("failed to marshal fixes: %w", err)
	}

	var operationID, stackState, errMsg *string
	if attempt.OperationID != "" {
		operationID = &attempt.OperationID
	}
	if attempt.StackState != "" {
		state := string(attempt.StackState)
		stackState = &state
	}
	if attempt.ErrorMessage != "" {
		errMsg = &attempt.ErrorMessage
	}

	var completedAt *time.Time
	if !attempt.CompletedAt.IsZero() {
		completedAt = &attempt.CompletedAt
	}

	query := `
		INSERT INTO attempts (run_id, attempt_number, operation_id, status, stack_state, error, template, fixes, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		runID,
		attempt.Number,
		operationID,
		string(attempt.Status),
		stackState,
		errMsg,
		body,
		string(fixes),
		attempt.StartedAt,
		completedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}

	return nil
}

// SaveFailureEvents persists the failure events collected for one
// attempt.
func (s *SQLiteStore) SaveFailureEvents(ctx context.Context, runID string, attemptNumber int, events []deploy.FailureEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO failure_events (run_id, attempt_number, resource_id, resource_type, status, status_reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for _, ev := range events {
		if _, err := tx.ExecContext(ctx, query,
			runID,
			attemptNumber,
			ev.ResourceID,
			ev.ResourceType,
			string(ev.Status),
			ev.StatusReason,
			ev.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to save failure event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure events: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, target, success, state, error, fixes, final_template, started_at, completed_at, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Target,
		&run.Success,
		&run.State,
		&run.Error,
		&run.Fixes,
		&run.FinalTemplate,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest first, with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, target, success, state, error, fixes, final_template, started_at, completed_at, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(
			&run.ID,
			&run.Target,
			&run.Success,
			&run.State,
			&run.Error,
			&run.Fixes,
			&run.FinalTemplate,
			&run.StartedAt,
			&run.CompletedAt,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
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

// ListAttempts lists the attempts of a run in attempt order.
func (s *SQLiteStore) ListAttempts(ctx context.Context, runID string) ([]*AttemptRecord, error) {
	query := `
		SELECT run_id, attempt_number, operation_id, status, stack_state, error, template, fixes, started_at, completed_at
		FROM attempts
		WHERE run_id = ?
		ORDER BY attempt_number ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*AttemptRecord{}
	for rows.Next() {
		attempt := &AttemptRecord{}
		err := rows.Scan(
			&attempt.RunID,
			&attempt.Number,
			&attempt.OperationID,
			&attempt.Status,
			&attempt.StackState,
			&attempt.Error,
			&attempt.Template,
			&attempt.Fixes,
			&attempt.StartedAt,
			&attempt.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	return attempts, nil
}

// ListFailureEvents lists the failure events recorded for a run, across
// all attempts, in insertion order.
func (s *SQLiteStore) ListFailureEvents(ctx context.Context, runID string) ([]*FailureEventRecord, error) {
	query := `
		SELECT id, run_id, attempt_number, resource_id, resource_type, status, status_reason, timestamp
		FROM failure_events
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failure events: %w", err)
	}
	defer rows.Close()

	events := []*FailureEventRecord{}
	for rows.Next() {
		event := &FailureEventRecord{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.AttemptNumber,
			&event.ResourceID,
			&event.ResourceType,
			&event.Status,
			&event.StatusReason,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failure event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure events: %w", err)
	}

	return events, nil
}

// DeleteRun deletes a run and its attempts and failure events.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM failure_events WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete failure events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete attempts: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}
