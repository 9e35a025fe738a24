package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/metrics"
)

// SweepResult counts the runs deleted by a sweep.
type SweepResult struct {
	Finished int `json:"finished"`
	Failed   int `json:"failed"`
}

func (r SweepResult) add(o SweepResult) SweepResult {
	return SweepResult{Finished: r.Finished + o.Finished, Failed: r.Failed + o.Failed}
}

// Sweeper deletes terminal runs older than their job's retention age.
// RUNNING runs are never touched. SKIPPED runs are kept: jobs only configure
// retention for finished and failed runs.
type Sweeper struct {
	registry *Registry
	store    RunStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper. A nil logger uses slog.Default.
func NewSweeper(registry *Registry, store RunStore, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{registry: registry, store: store, logger: logger, now: time.Now}
}

// Sweep applies the retention policy of a single workflow.
func (s *Sweeper) Sweep(ctx context.Context, workflowID string) (SweepResult, error) {
	job, ok := s.registry.Get(workflowID)
	if !ok {
		return SweepResult{}, core.NewNotFoundError("Workflow", workflowID)
	}

	now := s.now()
	var result SweepResult
	var errs []error

	if days, ok := job.DeleteFinishedRunsAfterDays(); ok {
		n, err := s.deleteOlderThan(ctx, workflowID, core.StateSuccess, now, days)
		if err != nil {
			errs = append(errs, err)
		}
		result.Finished = n
	}
	if days, ok := job.DeleteFailedRunsAfterDays(); ok {
		n, err := s.deleteOlderThan(ctx, workflowID, core.StateFailed, now, days)
		if err != nil {
			errs = append(errs, err)
		}
		result.Failed = n
	}

	if result.Finished > 0 || result.Failed > 0 {
		s.logger.Info("deleted old workflow runs",
			"workflow_id", workflowID,
			"finished", result.Finished,
			"failed", result.Failed,
		)
	}
	return result, errors.Join(errs...)
}

// SweepAll sweeps every registered workflow. A failure on one workflow does not
// stop the others; all errors are joined.
func (s *Sweeper) SweepAll(ctx context.Context) (SweepResult, error) {
	var total SweepResult
	var errs []error
	for _, job := range s.registry.List() {
		result, err := s.Sweep(ctx, job.WorkflowID())
		if err != nil {
			errs = append(errs, err)
		}
		total = total.add(result)
	}
	return total, errors.Join(errs...)
}

func (s *Sweeper) deleteOlderThan(ctx context.Context, workflowID string, state core.RunState, now time.Time, days int) (int, error) {
	if days < 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.store.DeleteRunsFinishedBefore(ctx, workflowID, state, cutoff)
	if err != nil {
		return n, fmt.Errorf("delete %s runs of %s: %w", state, workflowID, err)
	}
	if n > 0 {
		metrics.RunsDeleted.WithLabelValues(workflowID, string(state)).Add(float64(n))
	}
	return n, nil
}
