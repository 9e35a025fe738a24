package workflow

import (
	"context"
	"time"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// RunStore persists workflow runs.
//
// Implementations must return an error satisfying core.IsNotFound from GetRun and
// UpdateRun when the run does not exist. ListRuns returns runs newest first.
type RunStore interface {
	CreateRun(ctx context.Context, run *core.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*core.WorkflowRun, error)
	ListRuns(ctx context.Context, filter core.RunFilter) ([]*core.WorkflowRun, error)
	CountRuns(ctx context.Context, filter core.RunFilter) (int, error)
	UpdateRun(ctx context.Context, id string, patch core.RunPatch) (*core.WorkflowRun, error)

	// DeleteRunsFinishedBefore removes runs of workflowID in the given terminal
	// state whose FinishedAt is strictly before the cutoff. It returns the number
	// of deleted runs.
	DeleteRunsFinishedBefore(ctx context.Context, workflowID string, state core.RunState, before time.Time) (int, error)
}

// EventPublisher receives run lifecycle events.
type EventPublisher interface {
	PublishRunEvent(event *core.RunEvent) error
}
