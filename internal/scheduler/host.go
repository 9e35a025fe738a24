package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// InitFunc runs once while the host boots.
type InitFunc func(ctx context.Context) error

// ActionFunc reacts to a named event.
type ActionFunc func(ctx context.Context, payload any) error

// WorkflowHost is the surface features use to hook into the process: cron
// schedules, boot-time initialisation, and in-process events.
type WorkflowHost interface {
	OnSchedule(expr string, task Task) error
	OnInit(fn InitFunc)
	OnAction(event string, fn ActionFunc)
}

var _ WorkflowHost = (*Host)(nil)

// Host is the default WorkflowHost, backed by a Scheduler.
type Host struct {
	sched  *Scheduler
	logger *slog.Logger

	mu      sync.Mutex
	seq     int
	inits   []InitFunc
	actions map[string][]ActionFunc
}

// NewHost creates a Host that registers schedules on sched.
func NewHost(sched *Scheduler, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		sched:   sched,
		logger:  logger,
		actions: make(map[string][]ActionFunc),
	}
}

// Scheduler returns the underlying scheduler.
func (h *Host) Scheduler() *Scheduler { return h.sched }

// OnSchedule registers an anonymous cron task. Each call gets its own
// registration id, so the same expression may be scheduled more than once.
func (h *Host) OnSchedule(expr string, task Task) error {
	h.mu.Lock()
	h.seq++
	id := fmt.Sprintf("hook-%d", h.seq)
	h.mu.Unlock()
	return h.sched.RegisterCronJob(Registration{ID: id, Schedule: Expression(expr), Task: task})
}

// OnInit queues fn to run during Init.
func (h *Host) OnInit(fn InitFunc) {
	h.mu.Lock()
	h.inits = append(h.inits, fn)
	h.mu.Unlock()
}

// OnAction subscribes fn to event.
func (h *Host) OnAction(event string, fn ActionFunc) {
	h.mu.Lock()
	h.actions[event] = append(h.actions[event], fn)
	h.mu.Unlock()
}

// Init runs the queued init hooks in registration order. Every hook runs even if
// an earlier one fails; errors are joined.
func (h *Host) Init(ctx context.Context) error {
	h.mu.Lock()
	inits := append([]InitFunc(nil), h.inits...)
	h.mu.Unlock()

	var errs []error
	for i, fn := range inits {
		if err := fn(ctx); err != nil {
			h.logger.Error("init hook failed", "hook", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit delivers payload to every subscriber of event.
func (h *Host) Emit(ctx context.Context, event string, payload any) error {
	h.mu.Lock()
	fns := append([]ActionFunc(nil), h.actions[event]...)
	h.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx, payload); err != nil {
			h.logger.Warn("action hook failed", "event", event, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishRunEvent emits a run lifecycle event to in-process subscribers of its
// type, so Host can serve as an executor event publisher.
func (h *Host) PublishRunEvent(event *core.RunEvent) error {
	return h.Emit(context.Background(), event.Type, event)
}
