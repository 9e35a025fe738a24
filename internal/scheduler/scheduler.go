package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/metrics"
)

// Task is the body of a cron registration.
type Task func(ctx context.Context) error

// Registration binds a task to a schedule under a unique id.
type Registration struct {
	ID       string
	Schedule Schedule
	Task     Task
}

// EntryInfo describes a registration for display.
type EntryInfo struct {
	ID         string    `json:"id"`
	Expression string    `json:"expression"`
	Next       time.Time `json:"next,omitempty"`
	Prev       time.Time `json:"prev,omitempty"`
	Running    bool      `json:"running"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the time zone schedules are evaluated in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithContext sets the parent context handed to tasks. StopAll cancels it.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		if ctx != nil {
			s.parent = ctx
		}
	}
}

// Scheduler fires registered tasks on their cron schedules. A tick that arrives
// while the previous execution of the same registration is still in progress is
// skipped, so a registration never overlaps itself.
type Scheduler struct {
	cron     *cron.Cron
	state    *State
	logger   *slog.Logger
	location *time.Location

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a Scheduler. A nil logger uses slog.Default.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		state:    newState(),
		logger:   logger,
		location: time.UTC,
		parent:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(s.parent)
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger{logger: logger}),
	)
	return s
}

// State exposes the registration table and running guard.
func (s *Scheduler) State() *State { return s.state }

// RegisterCronJob adds a registration. An unparsable schedule returns a
// validation error and a repeated id returns a duplicate_registration error;
// in both cases nothing is scheduled and an existing registration is kept.
func (s *Scheduler) RegisterCronJob(reg Registration) error {
	if reg.Task == nil {
		return core.NewInvalidRequestError("cron job "+reg.ID+" has no task", nil)
	}
	if reg.ID == "" {
		return core.NewValidationError("cron job id is required", nil)
	}
	if reg.Schedule == nil {
		return core.NewValidationError("cron job "+reg.ID+" has no schedule", nil)
	}

	expr, err := reg.Schedule.CronExpression()
	if err == nil {
		_, err = ParseSchedule(expr)
	}
	if err != nil {
		s.logger.Error("invalid cron expression", "cron_id", reg.ID, "expression", expr, "error", err)
		return core.NewValidationError(
			fmt.Sprintf("invalid cron expression %q for %s: %v", expr, reg.ID, err),
			map[string]any{"cron_id": reg.ID, "expression": expr},
		)
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return core.NewConflictError("scheduler is stopped", map[string]any{"cron_id": reg.ID})
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if _, exists := s.state.registrations[reg.ID]; exists {
		s.logger.Warn("cron job already registered", "cron_id", reg.ID)
		return core.NewDuplicateRegistrationError("Cron job", reg.ID)
	}

	job := s.guard(reg.ID, reg.Task)
	entryID, err := s.cron.AddJob(expr, job)
	if err != nil {
		return core.NewValidationError(fmt.Sprintf("schedule %s: %v", reg.ID, err), nil)
	}
	s.state.registrations[reg.ID] = &registration{
		id:      reg.ID,
		expr:    expr,
		entryID: entryID,
		job:     job,
	}
	s.logger.Info("cron job registered", "cron_id", reg.ID, "expression", expr)
	return nil
}

// guard wraps a task with the running guard, timing logs and panic recovery.
func (s *Scheduler) guard(id string, task Task) cron.Job {
	return cron.FuncJob(func() {
		if !s.state.acquire(id) {
			s.logger.Info("cron job still running, skipping tick", "cron_id", id)
			metrics.TicksSkipped.WithLabelValues(id).Inc()
			return
		}
		defer s.state.release(id)

		start := time.Now()
		s.logger.Info("cron job started", "cron_id", id)
		if err := runTask(s.ctx, task); err != nil {
			s.logger.Error("cron job failed",
				"cron_id", id,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
			return
		}
		s.logger.Info("cron job finished", "cron_id", id, "duration_ms", time.Since(start).Milliseconds())
	})
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}

// Start begins firing registrations. Calling it more than once has no effect.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("cron scheduler started", "registrations", len(s.state.snapshot()))
}

// StopAll removes every registration and stops the cron loop. Stopping is best
// effort: a failure on one registration is logged and the rest are still
// stopped. In-flight tasks see their context cancelled but are not awaited.
// Calling StopAll again is a no-op.
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	var errs []error
	for _, reg := range s.state.snapshot() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.remove(reg); err != nil {
			s.logger.Error("failed to stop cron job", "cron_id", reg.id, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", reg.id, err))
			continue
		}
		s.logger.Info("cron job stopped", "cron_id", reg.id)
	}

	s.cron.Stop()
	s.cancel()
	s.logger.Info("cron scheduler stopped", "still_running", s.state.Running())
	return errors.Join(errs...)
}

func (s *Scheduler) remove(reg *registration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	s.cron.Remove(reg.entryID)
	s.state.mu.Lock()
	delete(s.state.registrations, reg.id)
	s.state.mu.Unlock()
	return nil
}

// Entries lists registrations sorted by id.
func (s *Scheduler) Entries() []EntryInfo {
	regs := s.state.snapshot()
	out := make([]EntryInfo, 0, len(regs))
	for _, reg := range regs {
		e := s.cron.Entry(reg.entryID)
		out = append(out, EntryInfo{
			ID:         reg.id,
			Expression: reg.expr,
			Next:       e.Next,
			Prev:       e.Prev,
			Running:    s.state.IsRunning(reg.id),
		})
	}
	return out
}

// cronLogger routes robfig/cron's internal logging to slog at debug level.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
