// Package metrics provides Prometheus metrics collection for metergate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for metergate.
type Collector struct {
	// Admission metrics
	EventsTotal           *prometheus.CounterVec
	OverageNotifications  *prometheus.CounterVec
	AdmissionErrors       prometheus.Counter

	// Flush metrics
	FlushDuration prometheus.Histogram
	FlushedStacks prometheus.Counter
	FlushFailures prometheus.Counter
	PendingStacks prometheus.Gauge
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Used primarily for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "events_total",
				Help:      "Events counted by the usage accounting service",
			},
			[]string{"decision"}, // "admitted" or "blocked"
		),
		OverageNotifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "overage_notifications_total",
				Help:      "Plan overage notifications published",
			},
			[]string{"window"}, // "hour" or "month"
		),
		AdmissionErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "admission_errors_total",
				Help:      "Admission calls that failed on counter store errors",
			},
		),
		FlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "metergate",
				Name:      "flush_duration_seconds",
				Help:      "Duration of stack occurrence flush cycles",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		FlushedStacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "flushed_stacks_total",
				Help:      "Stack records committed to the durable store by flushes",
			},
		),
		FlushFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "flush_failures_total",
				Help:      "Per-stack flush attempts that failed and were left pending",
			},
		),
		PendingStacks: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "metergate",
				Name:      "pending_stacks",
				Help:      "Stacks awaiting flush at the start of the last cycle",
			},
		),
	}
}
