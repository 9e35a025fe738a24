// Package workflow runs registered workflow jobs as persisted, single-flight runs.
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// Job is the capability contract a feature module implements to become a workflow.
type Job interface {
	// WorkflowID returns the stable, globally unique workflow identifier.
	WorkflowID() string

	// DeleteFinishedRunsAfterDays returns the retention age of SUCCESS runs.
	// ok is false when finished runs are never deleted automatically.
	DeleteFinishedRunsAfterDays() (days int, ok bool)

	// DeleteFailedRunsAfterDays returns the retention age of FAILED runs.
	DeleteFailedRunsAfterDays() (days int, ok bool)

	// HandleRunsWantToRun is the admission policy, evaluated before a run is persisted.
	HandleRunsWantToRun(candidate *core.WorkflowRun, candidates, running []*core.WorkflowRun) Admission

	// Run executes the unit of work. The returned patch must carry a terminal
	// state; a returned error finalizes the run as FAILED.
	Run(ctx context.Context, rc *RunContext) (core.RunPatch, error)
}

// Admission is the verdict of an admission policy. A non-empty ErrorMessage rejects the run.
type Admission struct {
	ErrorMessage string
}

// Rejected reports whether the admission refused the run.
func (a Admission) Rejected() bool {
	return a.ErrorMessage != ""
}

// RunContext is handed to Job.Run.
type RunContext struct {
	// Run is a snapshot of the run as it was persisted at admission.
	Run *core.WorkflowRun
	// Logger appends to the run's persisted log.
	Logger *RunLogger
	// Store gives the job read access to its own and other runs.
	Store RunStore
	// Log is the process logger scoped to this run.
	Log *slog.Logger
}

// Logf formats and appends a line to the run log.
func (rc *RunContext) Logf(ctx context.Context, format string, args ...any) error {
	return rc.Logger.Append(ctx, fmt.Sprintf(format, args...))
}

// Succeeded returns a SUCCESS patch carrying result.
func Succeeded(result map[string]any) core.RunPatch {
	return core.RunPatch{State: core.StateSuccess, Result: result}
}

// Skipped returns a SKIPPED patch, used when there is no work to do.
func Skipped() core.RunPatch {
	return core.RunPatch{State: core.StateSkipped}
}

// Failed returns a FAILED patch carrying result.
func Failed(result map[string]any) core.RunPatch {
	return core.RunPatch{State: core.StateFailed, Result: result}
}
