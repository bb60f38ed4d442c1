// Package observability exposes prometheus metrics for the client. Metrics
// are informational only; no control flow depends on them.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geopin_client_requests_total",
			Help: "Total number of dispatched API requests.",
		},
		[]string{"operation", "status", "mode"},
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geopin_client_request_duration_seconds",
			Help:    "Duration of sign+transport+decode in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"operation", "mode"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geopin_client_cache_results_total",
			Help: "Query cache lookups by result.",
		},
		[]string{"result"},
	)

	cacheOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geopin_client_cache_op_seconds",
			Help:    "Latency of query cache backend operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geopin_client_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveRequest(operation, mode string, status int, seconds float64) {
	requestsTotal.WithLabelValues(operation, strconv.Itoa(status), mode).Inc()
	requestDurationSeconds.WithLabelValues(operation, mode).Observe(seconds)
}

func ObserveCacheResult(result string) {
	cacheResults.WithLabelValues(result).Inc()
}

func ObserveCacheOp(op string, err error, seconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpSeconds.WithLabelValues(op, outcome).Observe(seconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
