// Package memory is an in-process RunStore. Runs are lost when the process exits;
// it backs tests and single-node development setups.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

var _ workflow.RunStore = (*Store)(nil)

// Store keeps runs in a map. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*core.WorkflowRun
}

// New returns an empty Store.
func New() *Store {
	return &Store{runs: make(map[string]*core.WorkflowRun)}
}

// CreateRun stores a copy of run. The id must be unused.
func (s *Store) CreateRun(_ context.Context, run *core.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return core.NewConflictError("run already exists", map[string]any{"run_id": run.ID})
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun returns a copy of the run.
func (s *Store) GetRun(_ context.Context, id string) (*core.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, core.NewNotFoundError("Run", id)
	}
	return run.Clone(), nil
}

// ListRuns returns matching runs, newest first.
func (s *Store) ListRuns(_ context.Context, filter core.RunFilter) ([]*core.WorkflowRun, error) {
	s.mu.RLock()
	out := make([]*core.WorkflowRun, 0)
	for _, run := range s.runs {
		if filter.Matches(run) {
			out = append(out, run.Clone())
		}
	}
	s.mu.RUnlock()

	core.SortNewestFirst(out)
	return filter.Page(out), nil
}

// CountRuns counts matching runs, ignoring paging.
func (s *Store) CountRuns(_ context.Context, filter core.RunFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, run := range s.runs {
		if filter.Matches(run) {
			n++
		}
	}
	return n, nil
}

// UpdateRun applies patch and returns the updated run.
func (s *Store) UpdateRun(_ context.Context, id string, patch core.RunPatch) (*core.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, core.NewNotFoundError("Run", id)
	}
	run.Apply(patch)
	return run.Clone(), nil
}

// DeleteRunsFinishedBefore removes runs of workflowID in state finished before the cutoff.
func (s *Store) DeleteRunsFinishedBefore(_ context.Context, workflowID string, state core.RunState, before time.Time) (int, error) {
	if !core.IsTerminalState(state) {
		return 0, core.NewValidationError("only terminal runs can be deleted", map[string]any{"state": state})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, run := range s.runs {
		if run.WorkflowID != workflowID || run.State != state {
			continue
		}
		if run.FinishedAt == nil || !run.FinishedAt.Before(before) {
			continue
		}
		delete(s.runs, id)
		n++
	}
	return n, nil
}
