// Package metrics exposes Prometheus collectors for the scheduler, the
// upstream fetchers and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyrfi_snapshots_total",
			Help: "Snapshot attempts by trigger and result.",
		},
		[]string{"trigger", "result"},
	)

	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyrfi_fetches_total",
			Help: "Upstream fetches by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	visibleObjects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skyrfi_visible_objects",
			Help: "Objects in the most recent visibility computation.",
		},
		[]string{"kind"},
	)

	computeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skyrfi_visibility_compute_seconds",
			Help:    "Time spent computing visibility for one snapshot.",
			Buckets: prometheus.DefBuckets,
		},
	)

	nextSnapshot = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyrfi_next_snapshot_timestamp_seconds",
			Help: "Unix time of the next scheduled snapshot.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyrfi_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyrfi_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(snapshotsTotal, fetchesTotal, visibleObjects, computeSeconds, nextSnapshot)
	prometheus.MustRegister(httpRequestsTotal, httpDurationSeconds)
}

// Snapshot counts one snapshot attempt. trigger is "scheduled" or "forced".
func Snapshot(trigger, result string) {
	snapshotsTotal.WithLabelValues(trigger, result).Inc()
}

// Fetch counts one upstream fetch.
func Fetch(source, outcome string) {
	fetchesTotal.WithLabelValues(source, outcome).Inc()
}

// Visible records the size of the latest computation.
func Visible(satellites, aircraft int) {
	visibleObjects.WithLabelValues("satellite").Set(float64(satellites))
	visibleObjects.WithLabelValues("aircraft").Set(float64(aircraft))
}

// ComputeDuration observes one visibility computation.
func ComputeDuration(d time.Duration) {
	computeSeconds.Observe(d.Seconds())
}

// NextSnapshot publishes the next scheduled snapshot time.
func NextSnapshot(t time.Time) {
	nextSnapshot.Set(float64(t.Unix()))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request. Paths are
// labelled by the matched route pattern so ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := routeLabel(r)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}

func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "other"
}
