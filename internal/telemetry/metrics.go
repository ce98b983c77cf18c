package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TasksSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "writer_tasks_submitted_total", Help: "Briefs accepted"})
	TasksGenerated     = prometheus.NewCounter(prometheus.CounterOpts{Name: "writer_tasks_generated_total", Help: "Tasks that reached pending_approval"})
	GenerationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "writer_generation_failures_total", Help: "Generation calls that exhausted retries"})
	JobsCompleted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "writer_jobs_completed_total", Help: "Queue jobs completed"})
	JobsRetried        = prometheus.NewCounter(prometheus.CounterOpts{Name: "writer_jobs_retried_total", Help: "Queue jobs scheduled for retry"})
	JobsExhausted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "writer_jobs_exhausted_total", Help: "Queue jobs that ran out of attempts"})
	RateLimitWaits     = prometheus.NewCounter(prometheus.CounterOpts{Name: "writer_rate_limit_waits_total", Help: "Job starts deferred by the rate limiter"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "writer_queue_depth", Help: "Ready queue depth"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "writer_jobs_inflight", Help: "Jobs currently being processed"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TasksSubmitted,
			TasksGenerated,
			GenerationFailures,
			JobsCompleted,
			JobsRetried,
			JobsExhausted,
			RateLimitWaits,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
