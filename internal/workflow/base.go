package workflow

import (
	"context"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// Base implements the identity, retention and admission parts of Job.
// Feature jobs embed it and provide Run.
type Base struct {
	id           string
	finishedDays int
	failedDays   int
	hasFinished  bool
	hasFailed    bool
}

// BaseOption configures a Base.
type BaseOption func(*Base)

// WithDeleteFinishedAfterDays deletes SUCCESS runs older than days.
// Negative values are ignored.
func WithDeleteFinishedAfterDays(days int) BaseOption {
	return func(b *Base) {
		if days >= 0 {
			b.finishedDays, b.hasFinished = days, true
		}
	}
}

// WithDeleteFailedAfterDays deletes FAILED runs older than days.
// Negative values are ignored.
func WithDeleteFailedAfterDays(days int) BaseOption {
	return func(b *Base) {
		if days >= 0 {
			b.failedDays, b.hasFailed = days, true
		}
	}
}

// NewBase creates a Base for the given workflow id.
func NewBase(id string, opts ...BaseOption) Base {
	b := Base{id: id}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b Base) WorkflowID() string { return b.id }

func (b Base) DeleteFinishedRunsAfterDays() (int, bool) { return b.finishedDays, b.hasFinished }

func (b Base) DeleteFailedRunsAfterDays() (int, bool) { return b.failedDays, b.hasFailed }

// HandleRunsWantToRun applies SingleWorkflowRun.
func (b Base) HandleRunsWantToRun(candidate *core.WorkflowRun, candidates, running []*core.WorkflowRun) Admission {
	return SingleWorkflowRun(candidate, candidates, running)
}

// RunFunc is the body of a function-backed job.
type RunFunc func(ctx context.Context, rc *RunContext) (core.RunPatch, error)

type funcJob struct {
	Base
	fn RunFunc
}

func (j *funcJob) Run(ctx context.Context, rc *RunContext) (core.RunPatch, error) {
	return j.fn(ctx, rc)
}

// NewFuncJob returns a Job with the default single-run policy whose body is fn.
func NewFuncJob(id string, fn RunFunc, opts ...BaseOption) Job {
	return &funcJob{Base: NewBase(id, opts...), fn: fn}
}
