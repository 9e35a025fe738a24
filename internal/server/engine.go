package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openjobspec/ojs-workflows-nats/internal/api"
	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/memory"
	natsbackend "github.com/openjobspec/ojs-workflows-nats/internal/nats"
	"github.com/openjobspec/ojs-workflows-nats/internal/postgres"
	"github.com/openjobspec/ojs-workflows-nats/internal/scheduler"
	"github.com/openjobspec/ojs-workflows-nats/internal/sqlite"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

// RetentionCronID is the registration id of the periodic retention sweep.
const RetentionCronID = "workflow-runs-retention"

// Engine owns the run store, the workflow registry, the executor and the
// scheduler of one process.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	Store     workflow.RunStore
	Registry  *workflow.Registry
	Executor  *workflow.Executor
	Sweeper   *workflow.Sweeper
	Scheduler *scheduler.Scheduler
	Host      *scheduler.Host

	health  api.HealthChecker
	events  api.EventReader
	broker  *natsbackend.PubSubBroker
	closers []func() error
}

// NewEngine opens the configured run store and wires the engine around it.
// The scheduler is not started.
func NewEngine(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{cfg: cfg, logger: logger, Registry: workflow.NewRegistry()}

	if err := e.openStore(ctx); err != nil {
		return nil, err
	}

	e.Scheduler = scheduler.New(logger, scheduler.WithLocation(cfg.Location()))
	e.Host = scheduler.NewHost(e.Scheduler, logger)
	e.Sweeper = workflow.NewSweeper(e.Registry, e.Store, logger)

	publishers := fanout{e.Host}
	if e.broker != nil {
		publishers = append(publishers, e.broker)
	}
	e.Executor = workflow.NewExecutor(e.Registry, e.Store,
		workflow.WithLogger(logger),
		workflow.WithSweeper(e.Sweeper),
		workflow.WithEventPublisher(publishers),
	)
	return e, nil
}

func (e *Engine) openStore(ctx context.Context) error {
	switch e.cfg.Store {
	case StoreMemory:
		e.Store = memory.New()
	case StoreSQLite:
		s, err := sqlite.Open(e.cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		e.Store, e.health = s, s
		e.closers = append(e.closers, s.Close)
	case StorePostgres:
		s, err := postgres.Open(ctx, e.cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("opening postgres store: %w", err)
		}
		e.Store, e.health = s, s
		e.closers = append(e.closers, s.Close)
	case StoreNATS:
		b, err := natsbackend.New(e.cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("opening nats store: %w", err)
		}
		e.Store, e.health, e.events = b, b, b
		e.broker = natsbackend.NewPubSubBroker(b.Conn())
		e.closers = append(e.closers, b.Close, e.broker.Close)
	default:
		return fmt.Errorf("unknown store %q", e.cfg.Store)
	}
	return nil
}

// RegisterWorkflow adds job to the registry and, when schedule is non-nil,
// schedules it under its workflow id. A tick that is refused by the admission
// policy is not reported as a failed tick; the executor already logged it.
func (e *Engine) RegisterWorkflow(job workflow.Job, schedule scheduler.Schedule) error {
	if job == nil {
		return core.NewInvalidRequestError("workflow job must not be nil", nil)
	}
	id := job.WorkflowID()
	if schedule != nil {
		expr, err := schedule.CronExpression()
		if err == nil {
			_, err = scheduler.ParseSchedule(expr)
		}
		if err != nil {
			e.logger.Error("invalid workflow schedule", "workflow_id", id, "error", err)
			return core.NewValidationError(fmt.Sprintf("invalid schedule for %s: %v", id, err), map[string]any{"workflow_id": id})
		}
	}
	if err := e.Registry.Register(job); err != nil {
		e.logger.Warn("workflow not registered", "workflow_id", id, "error", err)
		return err
	}
	if schedule == nil {
		return nil
	}
	return e.Scheduler.RegisterCronJob(scheduler.Registration{
		ID:       id,
		Schedule: schedule,
		Task: func(ctx context.Context) error {
			_, err := e.Executor.Start(ctx, id)
			if core.HasCode(err, core.ErrCodeConcurrencyRejected) {
				return nil
			}
			return err
		},
	})
}

// ScheduleRetention registers the periodic sweep of every registered workflow
// and a first sweep at Start. An empty expression disables both.
func (e *Engine) ScheduleRetention(expr string) error {
	if expr == "" {
		return nil
	}
	sweep := func(ctx context.Context) error {
		_, err := e.Sweeper.SweepAll(ctx)
		return err
	}
	err := e.Scheduler.RegisterCronJob(scheduler.Registration{
		ID:       RetentionCronID,
		Schedule: scheduler.Expression(expr),
		Task:     sweep,
	})
	if err != nil {
		return err
	}
	e.Host.OnInit(sweep)
	return nil
}

// Start runs the init hooks and starts the scheduler. The scheduler is started
// even when a hook fails; the hook errors are returned.
func (e *Engine) Start(ctx context.Context) error {
	err := e.Host.Init(ctx)
	e.Scheduler.Start()
	if err != nil {
		return fmt.Errorf("running init hooks: %w", err)
	}
	return nil
}

// Stop removes every cron registration. Running jobs are not awaited.
func (e *Engine) Stop(ctx context.Context) error {
	return e.Scheduler.StopAll(ctx)
}

// Close releases the run store.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// StoreName is the configured store backend.
func (e *Engine) StoreName() string { return e.cfg.Store }

// Handler returns the HTTP router for the engine.
func (e *Engine) Handler() http.Handler {
	return NewRouter(RouterDeps{
		Registry:  e.Registry,
		Store:     e.Store,
		Trigger:   e.Executor,
		Sweeper:   e.Sweeper,
		Schedules: e.Scheduler,
		Events:    e.events,
		Health:    e.health,
		StoreName: e.cfg.Store,
	})
}

// fanout delivers run events to several publishers. Every publisher is tried.
type fanout []workflow.EventPublisher

func (f fanout) PublishRunEvent(event *core.RunEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishRunEvent(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
