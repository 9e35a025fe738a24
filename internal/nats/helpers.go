package nats

import (
	"context"
	"log/slog"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/kv"
)

func (b *Backend) getRunState(ctx context.Context, runID string) (*core.WorkflowRun, error) {
	data, _, err := b.runs.Get(ctx, runID)
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, core.NewNotFoundError("Workflow run", runID)
		}
		return nil, core.NewPersistenceError("get run "+runID, err)
	}
	run, err := unmarshalRunState(data)
	if err != nil {
		return nil, core.NewPersistenceError("decode run "+runID, err)
	}
	return run, nil
}

// scanRuns loads every run matching filter. Entries deleted between listing the
// keys and reading them are skipped, as are entries that fail to decode.
func (b *Backend) scanRuns(ctx context.Context, filter core.RunFilter) ([]*core.WorkflowRun, error) {
	keys, err := b.runs.Keys(ctx)
	if err != nil {
		return nil, core.NewPersistenceError("list run keys", err)
	}

	var out []*core.WorkflowRun
	for _, key := range keys {
		run, err := b.getRunState(ctx, key)
		if err != nil {
			if !core.IsNotFound(err) {
				slog.Warn("skipping unreadable run", "run_id", key, "error", err)
			}
			continue
		}
		if filter.Matches(run) {
			out = append(out, run)
		}
	}
	return out, nil
}
