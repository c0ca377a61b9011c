// Package metrics exposes Prometheus instrumentation for the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CyclesTotal counts polling cycles by result (ok, fetch_error).
var CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stickybot_cycles_total",
	Help: "The total number of polling cycles run",
}, []string{"result"})

// ActionsTotal counts executed actions by kind and result (ok, error).
var ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stickybot_actions_total",
	Help: "The total number of forum actions executed",
}, []string{"kind", "result"})

// TrackedSubmissions is the size of the tracker after the last cycle.
var TrackedSubmissions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "stickybot_tracked_submissions",
	Help: "Submissions currently stickied and tracked by the bot",
})

// CycleDuration observes successful cycles, fetch through action execution.
var CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "stickybot_cycle_duration_seconds",
	Help:    "Wall time of a polling cycle including fetch and action execution",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
})

// KarmaCacheLookups counts author karma cache hits and misses.
var KarmaCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stickybot_karma_cache_lookups_total",
	Help: "Author karma lookups by cache result (hit, miss)",
}, []string{"result"})
