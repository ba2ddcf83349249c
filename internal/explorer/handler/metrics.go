package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shadowcheck/shadowcheck/internal/query"
	"github.com/shadowcheck/shadowcheck/internal/scoring"
)

var (
	scRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowcheck_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	scRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shadowcheck_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	scFiltersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowcheck_filters_total",
		Help: "Compiled filters by outcome (applied, ignored) and field.",
	}, []string{"outcome", "field"})

	scCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowcheck_cache_lookups_total",
		Help: "Explorer cache lookups by result.",
	}, []string{"result"})

	scScoringRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowcheck_scoring_runs_total",
		Help: "Batch scoring runs by result.",
	}, []string{"result"})

	scNetworksScoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shadowcheck_networks_scored_total",
		Help: "Networks scored across all runs.",
	})

	scScoringRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shadowcheck_scoring_run_duration_seconds",
		Help:    "Batch scoring run duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	scThreatLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shadowcheck_threat_level_networks",
		Help: "Networks per threat level in the most recent run.",
	}, []string{"level"})

	scWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowcheck_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		scRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		scRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordFilters records the applied and ignored filters of a compilation.
func RecordFilters(c query.Compiled) {
	for _, a := range c.Applied {
		scFiltersTotal.WithLabelValues("applied", a.Field).Inc()
	}
	for _, ig := range c.Ignored {
		scFiltersTotal.WithLabelValues("ignored", string(ig.Field)).Inc()
	}
}

// RecordCacheLookup records an explorer cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		scCacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		scCacheLookupsTotal.WithLabelValues("miss").Inc()
	}
}

// RecordScoringRun records the outcome of a batch scoring run.
func RecordScoringRun(s *scoring.Summary, err error) {
	switch {
	case err == nil:
		scScoringRunsTotal.WithLabelValues("success").Inc()
	case s == nil:
		scScoringRunsTotal.WithLabelValues("aborted").Inc()
	default:
		scScoringRunsTotal.WithLabelValues("failure").Inc()
	}
	if s == nil {
		return
	}
	scNetworksScoredTotal.Add(float64(s.Processed))
	scScoringRunDuration.Observe(s.Duration.Seconds())
	if err == nil {
		for level, n := range s.Levels {
			scThreatLevel.WithLabelValues(string(level)).Set(float64(n))
		}
	}
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		scWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		scWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
