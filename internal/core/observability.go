package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics aggregates the engine's prometheus collectors. A nil
// registerer yields working but unregistered collectors, which keeps tests
// and ephemeral tooling free of global registry state.
type engineMetrics struct {
	turns           *prometheus.CounterVec
	calls           *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	archiveFailures prometheus.Counter
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	factory := promauto.With(reg)
	return &engineMetrics{
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bastioncore",
			Name:      "turns_total",
			Help:      "Turns processed by terminal status.",
		}, []string{"status"}),
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bastioncore",
			Name:      "calls_total",
			Help:      "Proposed calls by outcome (applied, rejected_tier1, rejected_tier2).",
		}, []string{"outcome"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bastioncore",
			Name:      "turn_duration_seconds",
			Help:      "Wall time spent resolving a turn, adjudication included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		archiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bastioncore",
			Name:      "archive_failures_total",
			Help:      "Committed deltas the archive sink failed to record.",
		}),
	}
}
