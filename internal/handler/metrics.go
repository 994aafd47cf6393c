package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	cardRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilicard_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	cardRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bilicard_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	cardOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilicard_cards_total",
		Help: "Card responses by outcome (ok, invalid_id, not_found, render_error, internal).",
	}, []string{"outcome"})

	cardCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilicard_cache_lookups_total",
		Help: "Response cache lookups by result (hit, miss, bypass).",
	}, []string{"result"})

	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilicard_upstream_requests_total",
		Help: "Upstream candidate requests by candidate and outcome.",
	}, []string{"candidate", "outcome"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bilicard_upstream_duration_seconds",
		Help:    "Upstream candidate request duration in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"candidate"})

	upstreamBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bilicard_upstream_breaker_state",
		Help: "Circuit breaker state per candidate (0 closed, 1 half-open, 2 open).",
	}, []string{"candidate"})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilicard_health_checks_total",
		Help: "Total upstream health probes by candidate and result.",
	}, []string{"candidate", "result"})
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

		cardRequestsTotal.WithLabelValues(method, path, status).Inc()
		cardRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordUpstream records one upstream candidate request. It matches
// upstream.ObserveFunc.
func RecordUpstream(candidate, outcome string, latency time.Duration) {
	upstreamRequestsTotal.WithLabelValues(candidate, outcome).Inc()
	upstreamDuration.WithLabelValues(candidate).Observe(latency.Seconds())
}

// RecordBreakerState records a breaker transition. It matches
// upstream.BreakerFunc.
func RecordBreakerState(candidate string, _, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	upstreamBreakerState.WithLabelValues(candidate).Set(v)
}

// RecordHealthCheck records an upstream health probe result.
func RecordHealthCheck(candidate string, success bool) {
	if success {
		healthChecksTotal.WithLabelValues(candidate, "success").Inc()
	} else {
		healthChecksTotal.WithLabelValues(candidate, "failure").Inc()
	}
}

func recordCache(result string) {
	cardCacheLookupsTotal.WithLabelValues(result).Inc()
}

func recordOutcome(outcome string) {
	cardOutcomesTotal.WithLabelValues(outcome).Inc()
}
