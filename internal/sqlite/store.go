// Package sqlite stores workflow runs in a local SQLite database using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

//go:embed migrations/001_workflow_runs.sql
var migrationV1 string

var _ workflow.RunStore = (*Store)(nil)

// Store implements workflow.RunStore on SQLite.
type Store struct {
	path string
	db   *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers and keeps read-modify-write
	// updates free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{path: path, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

const runColumns = "id, workflow, state, started_at, finished_at, log, result"

// CreateRun inserts a new run.
func (s *Store) CreateRun(ctx context.Context, run *core.WorkflowRun) error {
	if run.ID == "" {
		return core.NewValidationError("run id is required", nil)
	}
	result, err := encodeResult(run.Result)
	if err != nil {
		return core.NewPersistenceError("encode run "+run.ID, err)
	}
	var finishedAt sql.NullString
	if run.FinishedAt != nil {
		finishedAt = sql.NullString{String: core.FormatTime(*run.FinishedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO workflow_runs ("+runColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.WorkflowID, string(run.State), core.FormatTime(run.StartedAt), finishedAt, run.Log, result,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return core.NewConflictError(fmt.Sprintf("Workflow run '%s' already exists.", run.ID), map[string]any{"run_id": run.ID})
		}
		return core.NewPersistenceError("insert run "+run.ID, err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*core.WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM workflow_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewNotFoundError("Workflow run", id)
		}
		return nil, core.NewPersistenceError("get run "+id, err)
	}
	return run, nil
}

// ListRuns returns runs matching filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter core.RunFilter) ([]*core.WorkflowRun, error) {
	where, args := whereClause(filter)
	query := "SELECT " + runColumns + " FROM workflow_runs" + where + " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewPersistenceError("list runs", err)
	}
	defer rows.Close()

	runs := []*core.WorkflowRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, core.NewPersistenceError("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewPersistenceError("list runs", err)
	}
	return runs, nil
}

// CountRuns counts runs matching filter, ignoring pagination.
func (s *Store) CountRuns(ctx context.Context, filter core.RunFilter) (int, error) {
	where, args := whereClause(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_runs"+where, args...).Scan(&n); err != nil {
		return 0, core.NewPersistenceError("count runs", err)
	}
	return n, nil
}

// UpdateRun applies patch inside a transaction.
func (s *Store) UpdateRun(ctx context.Context, id string, patch core.RunPatch) (*core.WorkflowRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.NewPersistenceError("begin update of run "+id, err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := scanRun(tx.QueryRowContext(ctx, "SELECT "+runColumns+" FROM workflow_runs WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewNotFoundError("Workflow run", id)
		}
		return nil, core.NewPersistenceError("get run "+id, err)
	}
	run.Apply(patch)

	result, err := encodeResult(run.Result)
	if err != nil {
		return nil, core.NewPersistenceError("encode run "+id, err)
	}
	var finishedAt sql.NullString
	if run.FinishedAt != nil {
		finishedAt = sql.NullString{String: core.FormatTime(*run.FinishedAt), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE workflow_runs SET state = ?, finished_at = ?, log = ?, result = ? WHERE id = ?",
		string(run.State), finishedAt, run.Log, result, id,
	)
	if err != nil {
		return nil, core.NewPersistenceError("update run "+id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, core.NewPersistenceError("commit update of run "+id, err)
	}
	return run, nil
}

// DeleteRunsFinishedBefore removes runs of workflowID in the terminal state
// whose finished_at is strictly before the cutoff.
func (s *Store) DeleteRunsFinishedBefore(ctx context.Context, workflowID string, state core.RunState, before time.Time) (int, error) {
	if !core.IsTerminalState(state) {
		return 0, core.NewValidationError(fmt.Sprintf("cannot delete runs in state %s", state), nil)
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM workflow_runs WHERE workflow = ? AND state = ? AND finished_at IS NOT NULL AND finished_at < ?",
		workflowID, string(state), core.FormatTime(before),
	)
	if err != nil {
		return 0, core.NewPersistenceError("delete runs of "+workflowID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.NewPersistenceError("delete runs of "+workflowID, err)
	}
	return int(n), nil
}

func whereClause(filter core.RunFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.WorkflowID != "" {
		conds = append(conds, "workflow = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(filter.State))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.WorkflowRun, error) {
	var (
		run        core.WorkflowRun
		state      string
		startedAt  string
		finishedAt sql.NullString
		result     sql.NullString
	)
	if err := row.Scan(&run.ID, &run.WorkflowID, &state, &startedAt, &finishedAt, &run.Log, &result); err != nil {
		return nil, err
	}
	run.State = core.RunState(state)

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("run %s: started_at: %w", run.ID, err)
	}
	run.StartedAt = t
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("run %s: finished_at: %w", run.ID, err)
		}
		run.FinishedAt = &t
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &run.Result); err != nil {
			return nil, fmt.Errorf("run %s: result: %w", run.ID, err)
		}
	}
	return &run, nil
}

func encodeResult(result map[string]any) (sql.NullString, error) {
	if len(result) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
