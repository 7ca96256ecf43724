package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stampdRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stampd_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	stampdRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stampd_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	stampdStampsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stampd_stamps_total",
		Help: "Stamp requests by result (committed, duplicate, invalid, error).",
	}, []string{"result"})

	stampdTreeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stampd_tree_size",
		Help: "Number of leaves in the tree.",
	})

	stampdValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stampd_validations_total",
		Help: "Proof validations by result (valid, invalid, malformed).",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		stampdRequestsTotal.WithLabelValues(method, path, status).Inc()
		stampdRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordStamp records the outcome of a stamp request.
func RecordStamp(result string) {
	stampdStampsTotal.WithLabelValues(result).Inc()
}

// SetTreeSize updates the tree size gauge.
func SetTreeSize(n uint64) {
	stampdTreeSize.Set(float64(n))
}

// RecordValidation records the outcome of a proof validation.
func RecordValidation(result string) {
	stampdValidationsTotal.WithLabelValues(result).Inc()
}
