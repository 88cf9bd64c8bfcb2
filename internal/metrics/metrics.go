package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   prometheus.CounterVec
	HTTPRequestDuration prometheus.HistogramVec
	HTTPResponseSize    prometheus.HistogramVec

	// Retrieval metrics
	RetrievalSessionsTotal prometheus.CounterVec
	RetrievalBatchesTotal  prometheus.CounterVec
	RetrievalRecordsTotal  prometheus.CounterVec
	RetrievalDuration      prometheus.HistogramVec

	// Upstream metrics
	UpstreamRequestsTotal   prometheus.CounterVec
	UpstreamRequestDuration prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   prometheus.CounterVec
	CacheMissesTotal prometheus.CounterVec

	// Error metrics
	ErrorsTotal prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			// HTTP metrics
			HTTPRequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"method", "path", "status"},
			),
			HTTPResponseSize: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_response_size_bytes",
					Help:    "HTTP response size in bytes",
					Buckets: prometheus.ExponentialBuckets(100, 10, 7),
				},
				[]string{"method", "path", "status"},
			),

			// Retrieval metrics
			RetrievalSessionsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "retrieval_sessions_total",
					Help: "Total number of history retrieval sessions",
				},
				[]string{"status"},
			),
			RetrievalBatchesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "retrieval_batches_total",
					Help: "Total number of upstream history batches fetched",
				},
				[]string{"channel"},
			),
			RetrievalRecordsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "retrieval_records_total",
					Help: "Total number of unique history records retrieved",
				},
				[]string{"channel"},
			),
			RetrievalDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "retrieval_session_duration_seconds",
					Help:    "History retrieval session duration in seconds",
					Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
				},
				[]string{"status"},
			),

			// Upstream metrics
			UpstreamRequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "upstream_requests_total",
					Help: "Total number of requests to the persistence API",
				},
				[]string{"operation", "status"},
			),
			UpstreamRequestDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "upstream_request_duration_seconds",
					Help:    "Persistence API request latency in seconds",
					Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
				},
				[]string{"operation"},
			),

			// Cache metrics
			CacheHitsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_hits_total",
					Help: "Total number of cache hits",
				},
				[]string{"cache_name"},
			),
			CacheMissesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_misses_total",
					Help: "Total number of cache misses",
				},
				[]string{"cache_name"},
			),

			// Error metrics
			ErrorsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "errors_total",
					Help: "Total number of errors by type",
				},
				[]string{"error_type", "endpoint"},
			),
		}
	})
	return instance
}

// Get returns the global metrics instance
func Get() *Metrics {
	if instance == nil {
		return Initialize()
	}
	return instance
}
