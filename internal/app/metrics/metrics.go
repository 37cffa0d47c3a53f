// Package metrics exposes the Prometheus collectors for the cache node.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the application-specific Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cachenode",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachenode",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cachenode",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	packagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachenode",
			Subsystem: "ingest",
			Name:      "packages_total",
			Help:      "Total number of data packages persisted.",
		},
		[]string{"data_service"},
	)

	invalidSignatures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cachenode",
			Subsystem: "ingest",
			Name:      "invalid_signatures_total",
			Help:      "Total number of persisted packages whose signature failed verification.",
		},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachenode",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Consensus cache lookups by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	broadcastFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachenode",
			Subsystem: "broadcast",
			Name:      "failures_total",
			Help:      "Broadcast sink failures by sink name.",
		},
		[]string{"sink"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		packagesIngested,
		invalidSignatures,
		cacheLookups,
		broadcastFailures,
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// PackagesIngested records persisted packages for a partition.
func PackagesIngested(dataServiceID string, count int) {
	packagesIngested.WithLabelValues(dataServiceID).Add(float64(count))
}

// InvalidSignature records a persisted package with a failed signature check.
func InvalidSignature() {
	invalidSignatures.Inc()
}

// CacheLookup records a consensus-cache lookup outcome.
func CacheLookup(strategy string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookups.WithLabelValues(strategy, outcome).Inc()
}

// BroadcastFailure records a failed sink delivery.
func BroadcastFailure(sink string) {
	broadcastFailures.WithLabelValues(sink).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments an HTTP handler with request counters and latency.
func Middleware(routePath string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, routePath, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, routePath).Observe(time.Since(start).Seconds())
	})
}
