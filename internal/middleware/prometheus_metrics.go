package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaydeck/relaydeck/internal/metrics"
)

// MetricsMiddleware collects HTTP metrics for Prometheus
func MetricsMiddleware() gin.HandlerFunc {
	m := metrics.Get()

	return func(c *gin.Context) {
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime).Seconds()
		status := c.Writer.Status()
		// Numeric status code as string (e.g., "200", "500") so Grafana
		// queries like status=~"5.." can match 5xx errors
		statusStr := strconv.Itoa(status)

		m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration)

		if size := c.Writer.Size(); size > 0 {
			m.HTTPResponseSize.WithLabelValues(method, path, statusStr).Observe(float64(size))
		}
	}
}

// RecordCacheHit records a cache hit for the named cache
func RecordCacheHit(cacheName string) {
	metrics.Get().CacheHitsTotal.WithLabelValues(cacheName).Inc()
}

// RecordCacheMiss records a cache miss for the named cache
func RecordCacheMiss(cacheName string) {
	metrics.Get().CacheMissesTotal.WithLabelValues(cacheName).Inc()
}

// RecordError records an error by type and endpoint
func RecordError(errorType, endpoint string) {
	metrics.Get().ErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordRetrievalSession records a completed retrieval session
func RecordRetrievalSession(status string, duration time.Duration) {
	m := metrics.Get()
	m.RetrievalSessionsTotal.WithLabelValues(status).Inc()
	m.RetrievalDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRetrievalBatch records one upstream batch fetched for a channel
func RecordRetrievalBatch(channel string, newRecords int) {
	m := metrics.Get()
	m.RetrievalBatchesTotal.WithLabelValues(channel).Inc()
	if newRecords > 0 {
		m.RetrievalRecordsTotal.WithLabelValues(channel).Add(float64(newRecords))
	}
}

// RecordUpstreamRequest records a persistence API call
func RecordUpstreamRequest(operation string, duration time.Duration, err error) {
	m := metrics.Get()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.UpstreamRequestsTotal.WithLabelValues(operation, status).Inc()
	m.UpstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
