package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricRequests tracks HTTP requests dispatched by the executor.
	metricRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_requests_total",
		Help: "The total number of HTTP requests sent.",
	})
	// metricRequestErrors tracks requests that ended in an error response.
	metricRequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_request_errors_total",
		Help: "The total number of failed HTTP requests.",
	})
	// metricRateLimitHits tracks HTTP 429 responses from the remote.
	metricRateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_rate_limit_hits_total",
		Help: "The total number of times the harvester was rate limited.",
	})
	// metricLeavesStored tracks leaf pages persisted to the resource store.
	metricLeavesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_leaves_stored_total",
		Help: "The total number of leaf pages written to the store.",
	})
	// metricBatchConcurrency exposes the governor's current concurrency level.
	metricBatchConcurrency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_batch_concurrency",
		Help: "Current adaptive concurrency level.",
	})
	// metricPacingSeconds exposes the governor's inter-batch pacing delay.
	metricPacingSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_pacing_delay_seconds",
		Help: "Current inter-batch pacing delay in seconds.",
	})
	// metricOutstanding exposes the outstanding-leaf count of the active pass.
	metricOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_outstanding_leaves",
		Help: "Leaves still missing from the store in the active fetch pass.",
	})
)
