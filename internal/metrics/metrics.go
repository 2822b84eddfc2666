// Package metrics registers the Prometheus collectors of the audience sync
// service and exposes small recording helpers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync runs partitioned by final status and trigger source
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audience_sync_runs_total",
			Help: "Audience sync runs by outcome and trigger",
		},
		[]string{"status", "trigger"},
	)

	// Users reported by the ad platform per run
	syncUsersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audience_sync_users_total",
			Help: "Users sent to the ad platform, by outcome (added, invalid)",
		},
		[]string{"outcome"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audience_sync_duration_seconds",
			Help:    "Wall time of a single audience sync run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	claimsRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audience_sync_claims_recovered_total",
			Help: "In-flight audience members returned to pending after a stale claim",
		},
	)

	sweepsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audience_sync_sweeps_skipped_total",
			Help: "Scheduled sweeps skipped because another replica held the sweep lock or the ad platform was unavailable",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordSyncRun records one finished SyncAudience call.
func RecordSyncRun(status, trigger string, added, invalid int, duration time.Duration) {
	syncRunsTotal.WithLabelValues(status, trigger).Inc()
	if added > 0 {
		syncUsersTotal.WithLabelValues("added").Add(float64(added))
	}
	if invalid > 0 {
		syncUsersTotal.WithLabelValues("invalid").Add(float64(invalid))
	}
	syncDuration.Observe(duration.Seconds())
}

// RecordClaimsRecovered adds n requeued members.
func RecordClaimsRecovered(n int64) {
	if n > 0 {
		claimsRecoveredTotal.Add(float64(n))
	}
}

// RecordSweepSkipped counts a tick that lost the sweep lock or found the
// ad platform unavailable.
func RecordSweepSkipped() { sweepsSkippedTotal.Inc() }

// Middleware records request counts and latencies labelled by the chi route
// pattern, keeping cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}
