// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Unread feed metrics
var (
	// UnreadCacheResults counts unread lookups by outcome (hit, miss, stale).
	UnreadCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homedash_unread_cache_results_total",
			Help: "Unread cache lookups by result",
		},
		[]string{"result"},
	)

	// UnreadFetches counts live dialog fetches by status.
	UnreadFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homedash_unread_fetches_total",
			Help: "Live unread fetches by status",
		},
		[]string{"status"},
	)

	// SessionConnects counts session handshakes by status.
	SessionConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homedash_session_connects_total",
			Help: "Messaging session handshakes by status",
		},
		[]string{"status"},
	)

	// PooledSessions is the number of live pooled sessions.
	PooledSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "homedash_pooled_sessions",
			Help: "Messaging sessions currently held by the pool",
		},
	)
)

// Calendar metrics
var (
	// CalendarFetches counts calendar source fetches by status.
	CalendarFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homedash_calendar_fetches_total",
			Help: "Calendar source fetches by status",
		},
		[]string{"status"},
	)

	// CalendarFetchDuration tracks calendar source fetch latency in seconds.
	CalendarFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "homedash_calendar_fetch_duration_seconds",
			Help:    "Calendar source fetch duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
	)
)
