package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/metrics"
)

const tracerName = "github.com/openjobspec/ojs-workflows-nats/internal/workflow"

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the process logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLoggerFactory replaces the RunLogger constructor.
func WithLoggerFactory(f LoggerFactory) ExecutorOption {
	return func(e *Executor) {
		if f != nil {
			e.newRunLogger = f
		}
	}
}

// WithSweeper runs a retention sweep for the workflow after every finalized run.
func WithSweeper(s *Sweeper) ExecutorOption {
	return func(e *Executor) { e.sweeper = s }
}

// WithEventPublisher publishes run lifecycle events.
func WithEventPublisher(p EventPublisher) ExecutorOption {
	return func(e *Executor) { e.events = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// Executor runs a single workflow invocation: admission, run creation, the job
// body and finalization.
//
// The running-runs query and the creation of the new run are not atomic. Two
// near-simultaneous Start calls for the same workflow (a manual trigger racing a
// cron tick, or several processes sharing a store) can both be admitted.
type Executor struct {
	registry     *Registry
	store        RunStore
	newRunLogger LoggerFactory
	sweeper      *Sweeper
	events       EventPublisher
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(registry *Registry, store RunStore, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:     registry,
		store:        store,
		newRunLogger: NewRunLogger,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs workflowID once and returns the finalized run.
//
// It returns a not_found error when the workflow is not registered and a
// concurrency_rejected error when the admission policy refuses the run; in both
// cases no run is persisted. A failing job body is not an error: the run is
// returned with state FAILED. If the final write fails, the in-memory run is
// returned together with a persistence_error and the stored row may remain RUNNING.
func (e *Executor) Start(ctx context.Context, workflowID string) (*core.WorkflowRun, error) {
	job, ok := e.registry.Get(workflowID)
	if !ok {
		e.logger.Error("workflow not registered", "workflow_id", workflowID)
		return nil, core.NewNotFoundError("Workflow", workflowID)
	}

	ctx, span := e.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(attribute.String("workflow.id", workflowID)),
	)
	defer span.End()

	running, err := e.store.ListRuns(ctx, core.RunFilter{WorkflowID: workflowID, State: core.StateRunning})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("failed to list running runs", "workflow_id", workflowID, "error", err)
		return nil, core.NewPersistenceError("list running runs of "+workflowID, err)
	}

	candidate := &core.WorkflowRun{
		ID:         core.NewUUIDv7(),
		WorkflowID: workflowID,
	}
	admission := job.HandleRunsWantToRun(candidate, []*core.WorkflowRun{candidate}, running)
	if admission.Rejected() {
		span.SetAttributes(attribute.Bool("workflow.rejected", true))
		e.logger.Warn("workflow run rejected",
			"workflow_id", workflowID,
			"reason", admission.ErrorMessage,
			"running", len(running),
		)
		metrics.AdmissionRejected.WithLabelValues(workflowID).Inc()
		e.publish(&core.RunEvent{Type: core.EventRunRejected, WorkflowID: workflowID, Message: admission.ErrorMessage})
		return nil, core.NewConcurrencyRejectedError(workflowID, admission.ErrorMessage)
	}

	candidate.State = core.StateRunning
	candidate.StartedAt = e.now().UTC()
	if err := e.store.CreateRun(ctx, candidate); err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("failed to create run", "workflow_id", workflowID, "error", err)
		return nil, core.NewPersistenceError("create run of "+workflowID, err)
	}
	span.SetAttributes(attribute.String("workflow.run_id", candidate.ID))
	metrics.RunsStarted.WithLabelValues(workflowID).Inc()
	e.publish(&core.RunEvent{Type: core.EventRunStarted, WorkflowID: workflowID, RunID: candidate.ID, State: core.StateRunning})
	e.logger.Info("workflow run started", "workflow_id", workflowID, "run_id", candidate.ID)

	runLogger := e.newRunLogger(e.store, candidate)
	rc := &RunContext{
		Run:    candidate.Clone(),
		Logger: runLogger,
		Store:  e.store,
		Log:    e.logger.With("workflow_id", workflowID, "run_id", candidate.ID),
	}

	outcome := e.invoke(ctx, job, rc)
	elapsed := e.now().Sub(candidate.StartedAt)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}

	run, finalErr := e.finalize(ctx, candidate, runLogger, outcome)
	span.SetAttributes(attribute.String("workflow.state", string(run.State)))
	metrics.ObserveRun(workflowID, string(run.State), elapsed)
	e.publish(&core.RunEvent{Type: core.EventRunFinished, WorkflowID: workflowID, RunID: run.ID, State: run.State})
	e.logger.Info("workflow run finished",
		"workflow_id", workflowID,
		"run_id", run.ID,
		"state", run.State,
		"duration_ms", elapsed.Milliseconds(),
	)

	if e.sweeper != nil {
		if _, err := e.sweeper.Sweep(ctx, workflowID); err != nil {
			e.logger.Error("retention sweep failed", "workflow_id", workflowID, "error", err)
		}
	}

	return run, finalErr
}

// invoke calls the job body and maps its result, including panics, to an Outcome.
func (e *Executor) invoke(ctx context.Context, job Job, rc *RunContext) (outcome core.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = core.Outcome{Kind: core.OutcomeFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return core.OutcomeOf(job.Run(ctx, rc))
}

func (e *Executor) finalize(ctx context.Context, run *core.WorkflowRun, runLogger *RunLogger, outcome core.Outcome) (*core.WorkflowRun, error) {
	if outcome.Err != nil {
		if err := runLogger.Append(ctx, "Error: "+outcome.Err.Error()); err != nil {
			e.logger.Error("failed to persist run log", "run_id", run.ID, "error", err)
		}
	}

	patch := outcome.Patch
	patch.State = outcome.Kind.State()
	finishedAt := e.now().UTC()
	patch.FinishedAt = &finishedAt
	patch = runLogger.FinalPatch(patch)

	updated, err := e.store.UpdateRun(ctx, run.ID, patch)
	if err != nil {
		e.logger.Error("failed to finalize run, it may remain RUNNING",
			"workflow_id", run.WorkflowID,
			"run_id", run.ID,
			"state", patch.State,
			"error", err,
		)
		final := run.Clone()
		final.Apply(patch)
		return final, core.NewPersistenceError("finalize run "+run.ID, err)
	}
	return updated, nil
}

func (e *Executor) publish(event *core.RunEvent) {
	if e.events == nil {
		return
	}
	event.At = e.now().UTC()
	if err := e.events.PublishRunEvent(event); err != nil {
		e.logger.Warn("failed to publish run event", "type", event.Type, "workflow_id", event.WorkflowID, "error", err)
	}
}
