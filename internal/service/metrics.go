package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the job's Prometheus collectors
type Metrics struct {
	WindowMerged       *prometheus.CounterVec
	SamplesPersisted   *prometheus.CounterVec
	OffendersPersisted *prometheus.CounterVec
	OffendersPruned    *prometheus.CounterVec
	RuleFailures       *prometheus.CounterVec
	PublishFailures    *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	LastTickTimestamp  prometheus.Gauge
}

// NewMetrics registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WindowMerged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rule_persistence_window_merged_members_total",
				Help: "Members found in merged window unions",
			},
			[]string{"rule"},
		),
		SamplesPersisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rule_persistence_samples_persisted_total",
				Help: "Sample records appended to the analytics store",
			},
			[]string{"rule"},
		),
		OffendersPersisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rule_persistence_offenders_persisted_total",
				Help: "New offender records written to durable storage",
			},
			[]string{"rule"},
		),
		OffendersPruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rule_persistence_offenders_pruned_total",
				Help: "Expired blacklist entries removed from Redis",
			},
			[]string{"rule"},
		),
		RuleFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rule_persistence_rule_failures_total",
				Help: "Per-rule phase failures",
			},
			[]string{"rule", "phase", "kind"},
		),
		PublishFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rule_persistence_offender_publish_failures_total",
				Help: "Offender event publish attempts that failed",
			},
			[]string{"rule"},
		),
		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rule_persistence_tick_duration_seconds",
				Help:    "Wall time of one tick over all rules",
				Buckets: prometheus.DefBuckets,
			},
		),
		LastTickTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rule_persistence_last_tick_timestamp_seconds",
				Help: "Unix time of the last finished tick",
			},
		),
	}
}
