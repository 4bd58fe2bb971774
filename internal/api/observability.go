package api

import (
	"strconv"
	"time"

	"github.com/Armour007/portal-backend/internal/gate"
	"github.com/Armour007/portal-backend/internal/health"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

var (
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portal",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "path", "status"},
	)
	gateDecisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "gate_decisions_total", Help: "Access gate decisions by outcome and reason"},
		[]string{"decision", "reason"},
	)
	// External ops (nginx apply/remove/sync)
	externalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "portal", Name: "external_op_duration_seconds", Help: "Duration of external operations"},
		[]string{"op", "outcome"},
	)
	externalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "external_op_total", Help: "Total external operations"},
		[]string{"op", "outcome"},
	)
	probeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "health_probes_total", Help: "Health probes by result"},
		[]string{"status"},
	)
	probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "portal", Name: "health_probe_duration_seconds", Help: "Upstream response time seen by health probes", Buckets: prometheus.DefBuckets},
	)
	cacheHitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "cache_hit_total", Help: "Cache hits by component"},
		[]string{"component"},
	)
	cacheMissTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "portal", Name: "cache_miss_total", Help: "Cache misses by component"},
		[]string{"component"},
	)
	sessionsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "portal", Name: "sessions_reaped_total", Help: "Access sessions closed for inactivity"},
	)
)

func init() {
	prometheus.MustRegister(reqDuration, reqTotal, gateDecisionTotal, externalDuration, externalTotal, probeTotal, probeDuration, cacheHitTotal, cacheMissTotal, sessionsReaped)
}

// MetricsMiddleware records basic HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := []string{c.Request.Method, path, toStr(status)}
		observer := reqDuration.WithLabelValues(labels...)
		// attach exemplar with trace_id if present
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			if eo, ok := observer.(prometheus.ExemplarObserver); ok {
				eo.ObserveWithExemplar(dur, prometheus.Labels{"trace_id": sc.TraceID().String()})
			} else {
				observer.Observe(dur)
			}
		} else {
			observer.Observe(dur)
		}
		reqTotal.With(prometheus.Labels{"method": c.Request.Method, "path": path, "status": toStr(status)}).Inc()
	}
}

func toStr(i int) string { return strconv.Itoa(i) }

// RecordGateDecision counts one gate outcome.
func RecordGateDecision(d gate.Decision) {
	dec := "deny"
	if d.Allow {
		dec = "allow"
	}
	reason := d.Reason
	if reason == "" {
		reason = "unspecified"
	}
	gateDecisionTotal.With(prometheus.Labels{"decision": dec, "reason": reason}).Inc()
}

// RecordExternalOp records an external operation metric with duration and outcome
func RecordExternalOp(op string, dur time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	externalDuration.WithLabelValues(op, outcome).Observe(dur.Seconds())
	externalTotal.WithLabelValues(op, outcome).Inc()
}

// RecordProbe is installed as health.Checker.OnProbe.
func RecordProbe(r health.Result) {
	probeTotal.WithLabelValues(r.Status()).Inc()
	if r.Running {
		probeDuration.Observe(r.ResponseTime / 1000)
	}
}

// RecordCacheHit increments the cache hit counter for a component
func RecordCacheHit(component string) { cacheHitTotal.WithLabelValues(component).Inc() }

// RecordCacheMiss increments the cache miss counter for a component
func RecordCacheMiss(component string) { cacheMissTotal.WithLabelValues(component).Inc() }
