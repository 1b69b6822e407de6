package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics groups the engine's Prometheus collectors.
type EscrowMetrics struct {
	transitions      *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	settled          *prometheus.CounterVec
	dispatchFailures prometheus.Counter
	stalled          prometheus.Gauge
	drift            prometheus.Gauge
	shortfall        prometheus.Gauge
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the lazily registered collectors.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "orders",
				Name:      "transitions_total",
				Help:      "Order status transitions segmented by source and target status.",
			}, []string{"from", "to"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "orders",
				Name:      "rejections_total",
				Help:      "Operations rejected by a guard, segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "settled_units_total",
				Help:      "Units paid out of escrow segmented by movement kind.",
			}, []string{"kind"}),
			dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "oracle",
				Name:      "dispatch_failures_total",
				Help:      "Verification requests that could not be handed to the oracle transport.",
			}),
			stalled: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "oracle",
				Name:      "stalled_verifications",
				Help:      "Orders waiting on the oracle longer than the stall threshold.",
			}),
			drift: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "conservation_drift_units",
				Help:      "Held escrow minus the amount owed to open orders; non-zero means a ledger defect.",
			}),
			shortfall: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "ledger",
				Name:      "vault_shortfall_units",
				Help:      "Held escrow the vault's token balance does not cover.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.rejections,
			escrowRegistry.settled,
			escrowRegistry.dispatchFailures,
			escrowRegistry.stalled,
			escrowRegistry.drift,
			escrowRegistry.shortfall,
		)
	})
	return escrowRegistry
}

func (m *EscrowMetrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *EscrowMetrics) Rejected(operation, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

func (m *EscrowMetrics) Settled(kind string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.settled.WithLabelValues(kind).Add(float64(amount))
}

func (m *EscrowMetrics) DispatchFailed() {
	if m == nil {
		return
	}
	m.dispatchFailures.Inc()
}

func (m *EscrowMetrics) SetStalled(n int) {
	if m == nil {
		return
	}
	m.stalled.Set(float64(n))
}

func (m *EscrowMetrics) SetDrift(units int64) {
	if m == nil {
		return
	}
	m.drift.Set(float64(units))
}

func (m *EscrowMetrics) SetShortfall(units int64) {
	if m == nil {
		return
	}
	m.shortfall.Set(float64(units))
}
