package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/scheduler"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

// Trigger starts a workflow run on demand.
type Trigger interface {
	Start(ctx context.Context, workflowID string) (*core.WorkflowRun, error)
}

// RetentionSweeper applies a workflow's retention policy.
type RetentionSweeper interface {
	Sweep(ctx context.Context, workflowID string) (workflow.SweepResult, error)
}

// ScheduleLister lists cron registrations.
type ScheduleLister interface {
	Entries() []scheduler.EntryInfo
}

// WorkflowSummary describes a registered workflow.
type WorkflowSummary struct {
	ID                      string     `json:"id"`
	Schedule                string     `json:"schedule,omitempty"`
	NextRun                 *time.Time `json:"next_run,omitempty"`
	Running                 bool       `json:"running"`
	DeleteFinishedAfterDays *int       `json:"delete_finished_after_days,omitempty"`
	DeleteFailedAfterDays   *int       `json:"delete_failed_after_days,omitempty"`
}

// WorkflowHandler serves the workflow endpoints.
type WorkflowHandler struct {
	registry  *workflow.Registry
	schedules ScheduleLister
	trigger   Trigger
	sweeper   RetentionSweeper
}

// NewWorkflowHandler creates a WorkflowHandler. schedules may be nil when no
// scheduler is running.
func NewWorkflowHandler(registry *workflow.Registry, schedules ScheduleLister, trigger Trigger, sweeper RetentionSweeper) *WorkflowHandler {
	return &WorkflowHandler{registry: registry, schedules: schedules, trigger: trigger, sweeper: sweeper}
}

// List handles GET /v1/workflows.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := make(map[string]scheduler.EntryInfo)
	if h.schedules != nil {
		for _, e := range h.schedules.Entries() {
			entries[e.ID] = e
		}
	}

	jobs := h.registry.List()
	out := make([]WorkflowSummary, 0, len(jobs))
	for _, job := range jobs {
		s := WorkflowSummary{ID: job.WorkflowID()}
		if days, ok := job.DeleteFinishedRunsAfterDays(); ok {
			s.DeleteFinishedAfterDays = &days
		}
		if days, ok := job.DeleteFailedRunsAfterDays(); ok {
			s.DeleteFailedAfterDays = &days
		}
		if e, ok := entries[s.ID]; ok {
			s.Schedule = e.Expression
			s.Running = e.Running
			if !e.Next.IsZero() {
				next := e.Next
				s.NextRun = &next
			}
		}
		out = append(out, s)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"workflows": out})
}

// Trigger handles POST /v1/workflows/{id}/trigger. The run executes within the
// request and the finalized run is returned. A client disconnect does not
// cancel the run.
func (h *WorkflowHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.trigger.Start(context.WithoutCancel(r.Context()), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"run": run})
}

// Sweep handles POST /v1/workflows/{id}/sweep.
func (h *WorkflowHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := h.sweeper.Sweep(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"workflow": id, "deleted": result})
}

// ScheduleHandler serves the cron registration listing.
type ScheduleHandler struct {
	schedules ScheduleLister
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(schedules ScheduleLister) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules}
}

// List handles GET /v1/schedules.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := []scheduler.EntryInfo{}
	if h.schedules != nil {
		entries = append(entries, h.schedules.Entries()...)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"schedules": entries})
}
