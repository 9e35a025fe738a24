package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/logging"
	"github.com/openjobspec/ojs-workflows-nats/internal/memory"
	"github.com/openjobspec/ojs-workflows-nats/internal/scheduler"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

type mockSchedules struct {
	entriesFunc func() []scheduler.EntryInfo
}

func (m *mockSchedules) Entries() []scheduler.EntryInfo {
	if m.entriesFunc != nil {
		return m.entriesFunc()
	}
	return nil
}

type mockEvents struct {
	eventsSinceFunc func(ctx context.Context, workflowID string, since time.Time, max int) ([]*core.RunEvent, error)
}

func (m *mockEvents) EventsSince(ctx context.Context, workflowID string, since time.Time, max int) ([]*core.RunEvent, error) {
	if m.eventsSinceFunc != nil {
		return m.eventsSinceFunc(ctx, workflowID, since, max)
	}
	return nil, nil
}

type mockHealth struct {
	err error
}

func (m mockHealth) Health(context.Context) error { return m.err }

type testEnv struct {
	router    *chi.Mux
	registry  *workflow.Registry
	store     *memory.Store
	schedules *mockSchedules
	events    *mockEvents
}

// newTestRouter wires the API routes to a memory store and a real executor.
func newTestRouter(t *testing.T, jobs ...workflow.Job) *testEnv {
	t.Helper()

	env := &testEnv{
		registry:  workflow.NewRegistry(),
		store:     memory.New(),
		schedules: &mockSchedules{},
		events:    &mockEvents{},
	}
	for _, job := range jobs {
		if err := env.registry.Register(job); err != nil {
			t.Fatalf("Register(%s): %v", job.WorkflowID(), err)
		}
	}
	logger := logging.NewNop()
	sweeper := workflow.NewSweeper(env.registry, env.store, logger)
	exec := workflow.NewExecutor(env.registry, env.store, workflow.WithLogger(logger))

	workflowH := NewWorkflowHandler(env.registry, env.schedules, exec, sweeper)
	runH := NewRunHandler(env.store)
	scheduleH := NewScheduleHandler(env.schedules)
	eventH := NewEventHandler(env.events)
	systemH := NewSystemHandler("memory", nil)

	r := chi.NewRouter()
	r.Get("/health", systemH.Health)
	r.Get("/v1/workflows", workflowH.List)
	r.Post("/v1/workflows/{id}/trigger", workflowH.Trigger)
	r.Post("/v1/workflows/{id}/sweep", workflowH.Sweep)
	r.Get("/v1/workflows/{id}/runs", runH.List)
	r.Get("/v1/runs/{id}", runH.Get)
	r.Get("/v1/schedules", scheduleH.List)
	r.Get("/v1/events", eventH.List)
	env.router = r
	return env
}

func (env *testEnv) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s %s: invalid JSON %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, body
}

func succeed(result map[string]any) workflow.RunFunc {
	return func(ctx context.Context, rc *workflow.RunContext) (core.RunPatch, error) {
		if err := rc.Logf(ctx, "working"); err != nil {
			return core.RunPatch{}, err
		}
		return workflow.Succeeded(result), nil
	}
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestWorkflowList(t *testing.T) {
	env := newTestRouter(t,
		workflow.NewFuncJob("news-sync", succeed(nil), workflow.WithDeleteFinishedAfterDays(7)),
		workflow.NewFuncJob("food-sync", succeed(nil)),
	)
	next := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	env.schedules.entriesFunc = func() []scheduler.EntryInfo {
		return []scheduler.EntryInfo{{ID: "food-sync", Expression: "*/5 * * * *", Next: next, Running: true}}
	}

	rec, body := env.do(t, http.MethodGet, "/v1/workflows")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	list, _ := body["workflows"].([]any)
	if len(list) != 2 {
		t.Fatalf("workflows = %v, want 2 entries", body["workflows"])
	}

	food := list[0].(map[string]any)
	if food["id"] != "food-sync" || food["schedule"] != "*/5 * * * *" || food["running"] != true {
		t.Errorf("food-sync = %v", food)
	}
	if food["next_run"] != "2025-03-01T12:05:00Z" {
		t.Errorf("next_run = %v", food["next_run"])
	}

	news := list[1].(map[string]any)
	if news["delete_finished_after_days"] != float64(7) {
		t.Errorf("news-sync retention = %v", news["delete_finished_after_days"])
	}
	if _, ok := news["delete_failed_after_days"]; ok {
		t.Errorf("news-sync should not report failed retention: %v", news)
	}
	if _, ok := news["schedule"]; ok {
		t.Errorf("news-sync is not scheduled: %v", news)
	}
}

func TestWorkflowTrigger_Success(t *testing.T) {
	env := newTestRouter(t, workflow.NewFuncJob("news-sync", succeed(map[string]any{"items": 3})))

	rec, body := env.do(t, http.MethodPost, "/v1/workflows/news-sync/trigger")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %v", rec.Code, body)
	}
	run, _ := body["run"].(map[string]any)
	if run["state"] != string(core.StateSuccess) || run["workflow"] != "news-sync" {
		t.Errorf("run = %v", run)
	}

	n, err := env.store.CountRuns(context.Background(), core.RunFilter{WorkflowID: "news-sync"})
	if err != nil || n != 1 {
		t.Errorf("CountRuns() = %d, %v; want 1", n, err)
	}
}

func TestWorkflowTrigger_Unknown(t *testing.T) {
	env := newTestRouter(t)

	rec, body := env.do(t, http.MethodPost, "/v1/workflows/missing/trigger")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if errorCode(body) != core.ErrCodeNotFound {
		t.Errorf("code = %q", errorCode(body))
	}
}

func TestWorkflowTrigger_RejectedWhileRunning(t *testing.T) {
	env := newTestRouter(t, workflow.NewFuncJob("news-sync", succeed(nil)))
	running := &core.WorkflowRun{ID: "r-running", WorkflowID: "news-sync", State: core.StateRunning, StartedAt: time.Now()}
	if err := env.store.CreateRun(context.Background(), running); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	rec, body := env.do(t, http.MethodPost, "/v1/workflows/news-sync/trigger")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if errorCode(body) != core.ErrCodeConcurrencyRejected {
		t.Errorf("code = %q", errorCode(body))
	}

	n, _ := env.store.CountRuns(context.Background(), core.RunFilter{WorkflowID: "news-sync"})
	if n != 1 {
		t.Errorf("runs = %d, want 1 (no new run persisted)", n)
	}
}

func TestWorkflowSweep(t *testing.T) {
	env := newTestRouter(t, workflow.NewFuncJob("canteen", succeed(nil), workflow.WithDeleteFinishedAfterDays(7)))
	ctx := context.Background()
	now := time.Now().UTC()
	for id, age := range map[string]time.Duration{"old": 10 * 24 * time.Hour, "recent": 2 * 24 * time.Hour} {
		finished := now.Add(-age)
		run := &core.WorkflowRun{ID: id, WorkflowID: "canteen", State: core.StateSuccess, StartedAt: finished, FinishedAt: &finished}
		if err := env.store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(%s): %v", id, err)
		}
	}

	rec, body := env.do(t, http.MethodPost, "/v1/workflows/canteen/sweep")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %v", rec.Code, body)
	}
	deleted, _ := body["deleted"].(map[string]any)
	if deleted["finished"] != float64(1) || deleted["failed"] != float64(0) {
		t.Errorf("deleted = %v", deleted)
	}
	if _, err := env.store.GetRun(ctx, "recent"); err != nil {
		t.Errorf("recent run should be kept: %v", err)
	}

	rec, _ = env.do(t, http.MethodPost, "/v1/workflows/missing/sweep")
	if rec.Code != http.StatusNotFound {
		t.Errorf("sweep(missing) status = %d, want 404", rec.Code)
	}
}

func TestRunList(t *testing.T) {
	env := newTestRouter(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, state := range []core.RunState{core.StateSuccess, core.StateFailed, core.StateSuccess} {
		run := &core.WorkflowRun{
			ID:         string(rune('a' + i)),
			WorkflowID: "news-sync",
			State:      state,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := env.store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	rec, body := env.do(t, http.MethodGet, "/v1/workflows/news-sync/runs?state=SUCCESS&limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["total"] != float64(2) || body["limit"] != float64(1) || body["offset"] != float64(0) {
		t.Errorf("page = %v", body)
	}
	runs, _ := body["runs"].([]any)
	if len(runs) != 1 || runs[0].(map[string]any)["id"] != "c" {
		t.Errorf("runs = %v, want [c]", runs)
	}

	rec, body = env.do(t, http.MethodGet, "/v1/workflows/unknown/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if runs, ok := body["runs"].([]any); !ok || len(runs) != 0 {
		t.Errorf("runs = %v, want empty list", body["runs"])
	}
}

func TestRunList_InvalidQuery(t *testing.T) {
	env := newTestRouter(t)
	for _, path := range []string{
		"/v1/workflows/w/runs?state=DONE",
		"/v1/workflows/w/runs?limit=0",
		"/v1/workflows/w/runs?limit=abc",
		"/v1/workflows/w/runs?offset=-1",
	} {
		rec, body := env.do(t, http.MethodGet, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, rec.Code)
		}
		if errorCode(body) != core.ErrCodeInvalidRequest {
			t.Errorf("GET %s code = %q", path, errorCode(body))
		}
	}
}

func TestRunGet(t *testing.T) {
	env := newTestRouter(t)
	run := &core.WorkflowRun{ID: "r1", WorkflowID: "w", State: core.StateSkipped, StartedAt: time.Now()}
	if err := env.store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	rec, body := env.do(t, http.MethodGet, "/v1/runs/r1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := body["run"].(map[string]any)["state"]; got != string(core.StateSkipped) {
		t.Errorf("state = %v", got)
	}

	rec, _ = env.do(t, http.MethodGet, "/v1/runs/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestScheduleList(t *testing.T) {
	env := newTestRouter(t)

	_, body := env.do(t, http.MethodGet, "/v1/schedules")
	if list, ok := body["schedules"].([]any); !ok || len(list) != 0 {
		t.Errorf("schedules = %v, want empty list", body["schedules"])
	}

	env.schedules.entriesFunc = func() []scheduler.EntryInfo {
		return []scheduler.EntryInfo{{ID: "workflow-runs-retention", Expression: "@every 1h"}}
	}
	_, body = env.do(t, http.MethodGet, "/v1/schedules")
	list, _ := body["schedules"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["expression"] != "@every 1h" {
		t.Errorf("schedules = %v", list)
	}
}

func TestEventList(t *testing.T) {
	env := newTestRouter(t)
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	var gotWorkflow string
	var gotSince time.Time
	var gotMax int
	env.events.eventsSinceFunc = func(_ context.Context, workflowID string, s time.Time, max int) ([]*core.RunEvent, error) {
		gotWorkflow, gotSince, gotMax = workflowID, s, max
		return []*core.RunEvent{{Type: core.EventRunFinished, WorkflowID: workflowID, RunID: "r1", State: core.StateSuccess}}, nil
	}

	rec, body := env.do(t, http.MethodGet, "/v1/events?workflow=news-sync&since=2025-03-01T00:00:00Z&limit=5000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotWorkflow != "news-sync" || !gotSince.Equal(since) || gotMax != maxEventsLimit {
		t.Errorf("EventsSince(%q, %v, %d)", gotWorkflow, gotSince, gotMax)
	}
	events, _ := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events = %v", body["events"])
	}

	rec, _ = env.do(t, http.MethodGet, "/v1/events?since=yesterday")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	env.events.eventsSinceFunc = func(context.Context, string, time.Time, int) ([]*core.RunEvent, error) {
		return nil, errors.New("stream unavailable")
	}
	rec, _ = env.do(t, http.MethodGet, "/v1/events")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestRouter(t)
	rec, body := env.do(t, http.MethodGet, "/health")
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["version"] != core.Version {
		t.Errorf("health = %d %v", rec.Code, body)
	}

	degraded := NewSystemHandler("nats", mockHealth{err: errors.New("nats connection CLOSED")})
	rec2 := httptest.NewRecorder()
	degraded.Health(rec2, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec2.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec2.Code)
	}
}
