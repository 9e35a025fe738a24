// Package postgres stores workflow runs in PostgreSQL through a pgx pool, for
// deployments where several processes share run history.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

//go:embed migrations/001_workflow_runs.sql
var migrationV1 string

const uniqueViolation = "23505"

var _ workflow.RunStore = (*Store)(nil)

// Store implements workflow.RunStore on PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// Open connects to databaseURL and applies migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing pool. The schema must already exist.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	var version int
	err := s.db.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(ctx, migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.Ping(ctx)
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
	_, err = s.db.Exec(ctx,
		"INSERT INTO workflow_runs ("+runColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		run.ID, run.WorkflowID, string(run.State), run.StartedAt, run.FinishedAt, run.Log, result,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return core.NewConflictError(fmt.Sprintf("Workflow run '%s' already exists.", run.ID), map[string]any{"run_id": run.ID})
		}
		return core.NewPersistenceError("insert run "+run.ID, err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*core.WorkflowRun, error) {
	run, err := scanRun(s.db.QueryRow(ctx, "SELECT "+runColumns+" FROM workflow_runs WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
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
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM workflow_runs"+where, args...).Scan(&n); err != nil {
		return 0, core.NewPersistenceError("count runs", err)
	}
	return n, nil
}

// UpdateRun applies patch under a row lock.
func (s *Store) UpdateRun(ctx context.Context, id string, patch core.RunPatch) (*core.WorkflowRun, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, core.NewPersistenceError("begin update of run "+id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	run, err := scanRun(tx.QueryRow(ctx, "SELECT "+runColumns+" FROM workflow_runs WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewNotFoundError("Workflow run", id)
		}
		return nil, core.NewPersistenceError("get run "+id, err)
	}
	run.Apply(patch)

	result, err := encodeResult(run.Result)
	if err != nil {
		return nil, core.NewPersistenceError("encode run "+id, err)
	}
	_, err = tx.Exec(ctx,
		"UPDATE workflow_runs SET state = $1, finished_at = $2, log = $3, result = $4 WHERE id = $5",
		string(run.State), run.FinishedAt, run.Log, result, id,
	)
	if err != nil {
		return nil, core.NewPersistenceError("update run "+id, err)
	}
	if err := tx.Commit(ctx); err != nil {
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
	tag, err := s.db.Exec(ctx,
		"DELETE FROM workflow_runs WHERE workflow = $1 AND state = $2 AND finished_at IS NOT NULL AND finished_at < $3",
		workflowID, string(state), before,
	)
	if err != nil {
		return 0, core.NewPersistenceError("delete runs of "+workflowID, err)
	}
	return int(tag.RowsAffected()), nil
}

func whereClause(filter core.RunFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		conds = append(conds, fmt.Sprintf("workflow = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		conds = append(conds, fmt.Sprintf("state = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRun(row pgx.Row) (*core.WorkflowRun, error) {
	var (
		run    core.WorkflowRun
		state  string
		result []byte
	)
	if err := row.Scan(&run.ID, &run.WorkflowID, &state, &run.StartedAt, &run.FinishedAt, &run.Log, &result); err != nil {
		return nil, err
	}
	run.State = core.RunState(state)
	run.StartedAt = run.StartedAt.UTC()
	if run.FinishedAt != nil {
		t := run.FinishedAt.UTC()
		run.FinishedAt = &t
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &run.Result); err != nil {
			return nil, fmt.Errorf("run %s: result: %w", run.ID, err)
		}
	}
	return &run, nil
}

func encodeResult(result map[string]any) ([]byte, error) {
	if len(result) == 0 {
		return nil, nil
	}
	return json.Marshal(result)
}
