// Package metrics exposes Prometheus collectors for the workflow engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ojs"

var (
	serverInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Static server information.",
	}, []string{"version", "store"})

	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "runs_started_total",
		Help:      "Workflow runs admitted and persisted as RUNNING.",
	}, []string{"workflow"})

	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "runs_finished_total",
		Help:      "Workflow runs finalized, by terminal state.",
	}, []string{"workflow", "state"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "run_duration_seconds",
		Help:      "Wall time of workflow job bodies.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"workflow"})

	AdmissionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "admission_rejected_total",
		Help:      "Run attempts refused by the workflow's admission policy.",
	}, []string{"workflow"})

	TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "ticks_skipped_total",
		Help:      "Cron ticks skipped because the previous tick was still executing.",
	}, []string{"registration"})

	RunsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "runs_deleted_total",
		Help:      "Terminal runs removed by retention sweeps.",
	}, []string{"workflow", "state"})
)

// Init records the server info metric.
func Init(version, store string) {
	serverInfo.WithLabelValues(version, store).Set(1)
}

// ObserveRun records a finalized run.
func ObserveRun(workflowID, state string, elapsed time.Duration) {
	RunsFinished.WithLabelValues(workflowID, state).Inc()
	RunDuration.WithLabelValues(workflowID).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
