package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "anthem_jobs_enqueued_total", Help: "Generation jobs enqueued"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "anthem_rate_limit_rejects_total", Help: "Trigger requests rejected by rate limiter"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "anthem_jobs_completed_total", Help: "Jobs completed successfully"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "anthem_jobs_retried_total", Help: "Job failures that will retry with backoff"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "anthem_jobs_failed_total", Help: "Jobs failed permanently"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "anthem_queue_depth", Help: "Queued jobs across registered types"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "anthem_jobs_inflight", Help: "Jobs currently claimed by a worker"})
	JobDuration      = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "anthem_job_duration_seconds",
		Help:    "Wall time of one generation attempt",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			QueueDepthGauge,
			InFlightGauge,
			JobDuration,
		)
	})
	return promhttp.Handler()
}
