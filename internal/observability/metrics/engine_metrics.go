// Package metrics exposes the reconciliation engine's health signals.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ClassificationFree = "free"
	ClassificationPaid = "paid"

	SyncOutcomeSynced   = "synced"
	SyncOutcomePending  = "pending"
	SyncOutcomeRejected = "rejected"
)

// EngineMetrics captures usage recording, provider sync, and dialogue
// transition counters.
type EngineMetrics struct {
	usageRecorded *prometheus.CounterVec
	syncAttempts  *prometheus.CounterVec
	resyncs       prometheus.Counter
	transitions   *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer)
	})
	return engineMetrics
}

// ResetEngineMetricsForTest resets the engine metrics singleton for tests.
func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = nil
}

func newEngineMetrics(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	usageRecorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billingbot_usage_events_total",
		Help: "Usage events recorded by content kind and free/paid classification.",
	}, []string{"kind", "classification"})
	syncAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billingbot_usage_sync_attempts_total",
		Help: "Provider sync attempts by outcome.",
	}, []string{"outcome"})
	resyncs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billingbot_subscription_resyncs_total",
		Help: "Subscription swaps reconciled against the ledger.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billingbot_dialogue_transitions_total",
		Help: "Dialogue state transitions to validate conversation flow health.",
	}, []string{"from", "to"})
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billingbot_pending_sweep_duration_seconds",
		Help:    "Pending-charge retry sweep latency.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	registerer.MustRegister(
		usageRecorded,
		syncAttempts,
		resyncs,
		transitions,
		sweepDuration,
	)

	return &EngineMetrics{
		usageRecorded: usageRecorded,
		syncAttempts:  syncAttempts,
		resyncs:       resyncs,
		transitions:   transitions,
		sweepDuration: sweepDuration,
	}
}

// IncUsageRecorded counts one recorded usage event.
func (m *EngineMetrics) IncUsageRecorded(kind, classification string) {
	if m == nil || m.usageRecorded == nil {
		return
	}
	m.usageRecorded.WithLabelValues(kind, classification).Inc()
}

// IncSyncAttempt counts one provider submission by outcome.
func (m *EngineMetrics) IncSyncAttempt(outcome string) {
	if m == nil || m.syncAttempts == nil {
		return
	}
	m.syncAttempts.WithLabelValues(outcome).Inc()
}

// IncResync counts one subscription swap reconciliation.
func (m *EngineMetrics) IncResync() {
	if m == nil || m.resyncs == nil {
		return
	}
	m.resyncs.Inc()
}

// IncTransition counts one dialogue state transition.
func (m *EngineMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveSweepDuration records a retry sweep's latency.
func (m *EngineMetrics) ObserveSweepDuration(duration time.Duration) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}
