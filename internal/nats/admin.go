package nats

import (
	"context"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// ListRuns returns runs matching filter, newest first, paginated by
// filter.Limit and filter.Offset.
func (b *Backend) ListRuns(ctx context.Context, filter core.RunFilter) ([]*core.WorkflowRun, error) {
	runs, err := b.scanRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	core.SortNewestFirst(runs)
	return filter.Page(runs), nil
}

// CountRuns counts runs matching filter, ignoring pagination.
func (b *Backend) CountRuns(ctx context.Context, filter core.RunFilter) (int, error) {
	runs, err := b.scanRuns(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(runs), nil
}
