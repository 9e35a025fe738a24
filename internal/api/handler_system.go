package api

import (
	"context"
	"net/http"
	"time"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
	defaultEventsSince = time.Hour
)

// HealthChecker reports whether the run store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// EventReader replays recorded run events.
type EventReader interface {
	EventsSince(ctx context.Context, workflowID string, since time.Time, max int) ([]*core.RunEvent, error)
}

// SystemHandler serves health information.
type SystemHandler struct {
	store     string
	health    HealthChecker
	startTime time.Time
}

// NewSystemHandler creates a SystemHandler. health may be nil for stores that
// cannot become unreachable.
func NewSystemHandler(store string, health HealthChecker) *SystemHandler {
	return &SystemHandler{store: store, health: health, startTime: time.Now()}
}

// Health handles GET /health.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"version":        core.Version,
		"store":          h.store,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Health(ctx); err != nil {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
			WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// EventHandler serves the run event history.
type EventHandler struct {
	events EventReader
	now    func() time.Time
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventReader) *EventHandler {
	return &EventHandler{events: events, now: time.Now}
}

// List handles GET /v1/events?workflow=&since=&limit=. since is an RFC 3339
// timestamp and defaults to one hour ago.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	since := h.now().Add(-defaultEventsSince)
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError(
				"since must be an RFC 3339 timestamp",
				map[string]any{"since": raw},
			))
			return
		}
		since = t
	}

	limit, err := queryInt(q.Get("limit"), defaultEventsLimit)
	if err != nil || limit < 1 {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("limit must be a positive integer", nil))
		return
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	events, err := h.events.EventsSince(r.Context(), q.Get("workflow"), since, limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	if events == nil {
		events = []*core.RunEvent{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
