package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksSubmitted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_submitted_total", Help: "Tasks accepted into the queue"})
	TasksCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_completed_total", Help: "Tasks that finished successfully"})
	TasksFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_failed_total", Help: "Tasks that finished in failure"})
	TasksCancelled   = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_cancelled_total", Help: "Tasks cancelled before or during execution"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tasks_queue_depth", Help: "Task ids waiting for a worker"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tasks_inflight", Help: "Tasks currently processing"})
	TrackedGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tasks_tracked", Help: "Task records held in the store"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksSubmitted,
			TasksCompleted,
			TasksFailed,
			TasksCancelled,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
			TrackedGauge,
		)
	})
	return promhttp.Handler()
}
