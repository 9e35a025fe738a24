package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// RunHandler serves persisted workflow runs.
type RunHandler struct {
	store workflow.RunStore
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(store workflow.RunStore) *RunHandler {
	return &RunHandler{store: store}
}

// List handles GET /v1/workflows/{id}/runs?state=&limit=&offset=.
// Runs are returned newest first.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := core.RunFilter{WorkflowID: chi.URLParam(r, "id")}

	q := r.URL.Query()
	if s := q.Get("state"); s != "" {
		state := core.RunState(s)
		if !core.IsValidState(state) {
			WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError(
				"invalid state "+strconv.Quote(s),
				map[string]any{"state": s},
			))
			return
		}
		filter.State = state
	}

	limit, err := queryInt(q.Get("limit"), defaultRunsLimit)
	if err != nil || limit < 1 {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("limit must be a positive integer", nil))
		return
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("offset must be a non-negative integer", nil))
		return
	}

	total, err := h.store.CountRuns(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	filter.Limit, filter.Offset = limit, offset
	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	if runs == nil {
		runs = []*core.WorkflowRun{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get handles GET /v1/runs/{id}.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"run": run})
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
