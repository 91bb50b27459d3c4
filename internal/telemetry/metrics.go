// Package telemetry provides application-level observability for the gateway.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<TOOLGATE_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Gate decisions by outcome and denial code
//   - Rate-limit checks and shared-store failures by strategy
//   - Usage recording failures by effect
//   - Key expiry sweeper transitions
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// The path label holds the Gin route template (e.g. /v1/tools/:name), never the raw URL.
//
// Example PromQL queries:
//   - Denial rate on tool calls: sum(rate(http_requests_total{path="/v1/tools/:name",status=~"4.."}[5m]))
//   - p99 latency per route:     histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// GateDecisionsTotal counts every gate evaluation. outcome is "admitted" or "denied";
// code is the denial code, or "NONE" for admissions. Unauthenticated admissions use
// outcome "admitted_anonymous".
//
// Example PromQL queries:
//   - Denials by reason: sum by (code) (rate(gate_decisions_total{outcome="denied"}[5m]))
var GateDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gate_decisions_total",
		Help: "Total number of access gate decisions, by outcome and denial code.",
	},
	[]string{"outcome", "code"},
)

// Rate limiter metrics.
//
// RateLimitChecksTotal is labelled {strategy, allowed} where strategy is one of
// "sliding_window", "gcra" or "local".
//
// RateLimitStoreErrorsTotal counts shared-store failures, labelled by strategy and by
// the policy applied ("fail_open" or "fail_closed"). Any sustained rate here means the
// gateway is not enforcing (fail_open) or is rejecting everything (fail_closed).
var (
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Total number of rate-limit checks, by strategy and decision.",
		},
		[]string{"strategy", "allowed"},
	)

	RateLimitStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Total number of shared rate-limit store failures, by strategy and failure policy.",
		},
		[]string{"strategy", "policy"},
	)
)

// UsageRecordFailuresTotal counts swallowed usage accounting failures, labelled by
// effect: "log", "daily" or "monthly".
var UsageRecordFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "usage_record_failures_total",
		Help: "Total number of failed usage accounting writes, by effect.",
	},
	[]string{"effect"},
)

// KeysExpiredTotal is incremented by the expiry sweeper for every key moved from
// active to expired.
var KeysExpiredTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "keys_expired_total",
		Help: "Total number of API keys transitioned to expired by the sweeper.",
	},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// It stops when ctx is cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
