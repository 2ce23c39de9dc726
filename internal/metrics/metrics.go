// Package metrics provides Prometheus instrumentation for the aggregation
// engine and its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerCalls counts contract reads by method and outcome (ok, absent, error).
	LedgerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xoexpert_ledger_calls_total",
		Help: "Total ledger contract reads",
	}, []string{"method", "outcome"})

	// LedgerLatency tracks contract read latency by method.
	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xoexpert_ledger_call_duration_seconds",
		Help:    "Ledger contract read latency in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})

	// SnapshotOutcomes counts per-id snapshot results produced by the batch
	// executor (ok, absent, error).
	SnapshotOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xoexpert_snapshot_outcomes_total",
		Help: "Per-market snapshot fetch outcomes",
	}, []string{"outcome"})

	// MetadataFallbacks counts metadata resolutions that fell back to the
	// synthesized title, by reason.
	MetadataFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xoexpert_metadata_fallbacks_total",
		Help: "Metadata resolutions that used the synthesized title",
	}, []string{"reason"})

	// RangeResolutions counts total-market resolutions by source
	// (counter, cache, scan).
	RangeResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xoexpert_range_resolutions_total",
		Help: "Market range resolutions by source",
	}, []string{"source"})

	// DiscoveryCapHits counts discovery scans that stopped at the hard cap.
	DiscoveryCapHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xoexpert_discovery_cap_hits_total",
		Help: "Discovery scans that reached the hard id cap",
	})

	// KnownMarkets tracks the last resolved total market count.
	KnownMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xoexpert_known_markets",
		Help: "Highest market id known to exist",
	})

	// QueryLatency tracks query engine operation latency by kind.
	QueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xoexpert_query_duration_seconds",
		Help:    "Query engine operation latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xoexpert_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xoexpert_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
	}, []string{"method", "route"})
)

// ObserveSince records the elapsed time since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency. The route label is the
// ServeMux pattern that matched, which keeps cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
