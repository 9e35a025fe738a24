package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openjobspec/ojs-workflows-nats/internal/api"
	"github.com/openjobspec/ojs-workflows-nats/internal/metrics"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

// RouterDeps are the collaborators the HTTP API is served from. Events and
// Health are optional.
type RouterDeps struct {
	Registry  *workflow.Registry
	Store     workflow.RunStore
	Trigger   api.Trigger
	Sweeper   api.RetentionSweeper
	Schedules api.ScheduleLister
	Events    api.EventReader
	Health    api.HealthChecker
	StoreName string
}

// NewRouter creates the chi router with all workflow routes.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(api.OJSHeaders)
	r.Use(api.RequestLogger)
	r.Use(api.LimitBody)
	r.Use(api.ValidateContentType)

	systemH := api.NewSystemHandler(deps.StoreName, deps.Health)
	workflowH := api.NewWorkflowHandler(deps.Registry, deps.Schedules, deps.Trigger, deps.Sweeper)
	runH := api.NewRunHandler(deps.Store)
	scheduleH := api.NewScheduleHandler(deps.Schedules)

	r.Get("/health", systemH.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/workflows", workflowH.List)
		r.Get("/workflows/{id}/runs", runH.List)
		r.Post("/workflows/{id}/trigger", workflowH.Trigger)
		r.Post("/workflows/{id}/sweep", workflowH.Sweep)
		r.Get("/runs/{id}", runH.Get)
		r.Get("/schedules", scheduleH.List)
		if deps.Events != nil {
			r.Get("/events", api.NewEventHandler(deps.Events).List)
		}
	})

	return r
}
