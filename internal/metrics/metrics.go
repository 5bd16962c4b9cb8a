// Package metrics holds the Prometheus collectors for domain-level events:
// lifecycle transitions, expiration sweeps, realtime connections and rate
// limiting. HTTP request metrics live in the middleware package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SessionTransitions counts successful status transitions by target status.
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Session status transitions applied, by target status.",
		},
		[]string{"status"},
	)

	// SweepRuns counts expiration sweep executions by outcome (ok, error).
	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_sweep_runs_total",
			Help: "Expiration sweep executions by outcome.",
		},
		[]string{"outcome"},
	)

	SweepExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_sweep_expired_total",
		Help: "Sessions moved to expired by the sweep.",
	})

	SweepFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_sweep_update_failures_total",
		Help: "Per-session update failures during the sweep; retried next tick.",
	})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_sweep_duration_seconds",
		Help:    "Duration of expiration sweep runs.",
		Buckets: prometheus.DefBuckets,
	})

	LifecycleEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_lifecycle_events_dropped_total",
		Help: "Lifecycle events dropped because the dispatch queue was full.",
	})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Currently open authenticated websocket connections.",
	})

	WSRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_rooms",
		Help: "Session rooms with at least one joined connection.",
	})

	// MessagesPersisted counts chat messages by kind (text, image, file).
	MessagesPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Chat messages persisted, by kind.",
		},
		[]string{"type"},
	)

	rateLimitDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_drops_total",
			Help: "Requests rejected with 429, by limiter prefix.",
		},
		[]string{"prefix"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionTransitions,
		SweepRuns, SweepExpired, SweepFailures, SweepDuration,
		LifecycleEventsDropped,
		WSConnections, WSRooms,
		MessagesPersisted,
		rateLimitDrops,
	)
}

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	rateLimitDrops.WithLabelValues(prefix).Inc()
}
