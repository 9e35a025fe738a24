package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/kv"
)

// CreateRun stores a new run. A run with the same id is a conflict.
func (b *Backend) CreateRun(ctx context.Context, run *core.WorkflowRun) error {
	if run.ID == "" {
		return core.NewValidationError("run id is required", nil)
	}
	data, err := marshalRunState(run)
	if err != nil {
		return core.NewPersistenceError("encode run "+run.ID, err)
	}
	if _, err := b.runs.Create(ctx, run.ID, data); err != nil {
		if kv.IsExists(err) {
			return core.NewConflictError(fmt.Sprintf("Workflow run '%s' already exists.", run.ID), map[string]any{"run_id": run.ID})
		}
		return core.NewPersistenceError("create run "+run.ID, err)
	}
	return nil
}

// GetRun loads a run by id.
func (b *Backend) GetRun(ctx context.Context, id string) (*core.WorkflowRun, error) {
	return b.getRunState(ctx, id)
}

// UpdateRun applies patch with compare-and-swap on the entry revision, so
// concurrent log appends and finalization never lose each other's fields.
func (b *Backend) UpdateRun(ctx context.Context, id string, patch core.RunPatch) (*core.WorkflowRun, error) {
	var updated *core.WorkflowRun
	_, err := kv.UpdateJSON(ctx, b.runs, id, func(state *runState) error {
		run, err := stateToRun(state)
		if err != nil {
			return err
		}
		run.Apply(patch)
		*state = *runToState(run)
		updated = run
		return nil
	})
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, core.NewNotFoundError("Workflow run", id)
		}
		return nil, core.NewPersistenceError("update run "+id, err)
	}
	return updated, nil
}

// DeleteRunsFinishedBefore removes runs of workflowID in the terminal state
// whose FinishedAt is strictly before the cutoff.
func (b *Backend) DeleteRunsFinishedBefore(ctx context.Context, workflowID string, state core.RunState, before time.Time) (int, error) {
	if !core.IsTerminalState(state) {
		return 0, core.NewValidationError(fmt.Sprintf("cannot delete runs in state %s", state), nil)
	}
	runs, err := b.scanRuns(ctx, core.RunFilter{WorkflowID: workflowID, State: state})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, run := range runs {
		if run.FinishedAt == nil || !run.FinishedAt.Before(before) {
			continue
		}
		if err := b.runs.Delete(ctx, run.ID); err != nil {
			return deleted, core.NewPersistenceError("delete run "+run.ID, err)
		}
		deleted++
	}
	return deleted, nil
}
