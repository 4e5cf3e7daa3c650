// --- File: internal/metrics/prometheus.go ---
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cycleBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

	// CyclesTotal counts dispatch cycles by how they ended ("ok", "query_failed", "busy").
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_cycles_total",
			Help: "Total number of dispatch cycles, by status.",
		},
		[]string{"status"},
	)

	// JobsTotal counts jobs handled by a cycle, by terminal result or "skipped".
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_jobs_total",
			Help: "Total number of queued jobs processed, by result.",
		},
		[]string{"result"},
	)

	// DeliveriesTotal counts per-token delivery attempts.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_token_deliveries_total",
			Help: "Total number of per-token push deliveries, by success.",
		},
		[]string{"success"},
	)

	TokensPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_tokens_pruned_total",
			Help: "Total number of dead device tokens deleted.",
		},
	)

	// JobsEnqueued counts jobs accepted from the API or the intake subscription.
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_jobs_enqueued_total",
			Help: "Total number of jobs added to the queue, by source.",
		},
		[]string{"source"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatcher_cycle_duration_seconds",
			Help:    "Histogram of dispatch cycle duration in seconds.",
			Buckets: cycleBuckets,
		},
	)
)

// MetricsHandler returns the HTTP handler for the Prometheus metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func ObserveCycle(status string, start time.Time) {
	CyclesTotal.WithLabelValues(status).Inc()
	CycleDuration.Observe(time.Since(start).Seconds())
}

func ObserveDeliveries(success, failure int) {
	if success > 0 {
		DeliveriesTotal.WithLabelValues("true").Add(float64(success))
	}
	if failure > 0 {
		DeliveriesTotal.WithLabelValues("false").Add(float64(failure))
	}
}
