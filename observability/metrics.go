package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	applied    *prometheus.CounterVec
	reverted   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	exceptions prometheus.Counter
	blocks     *prometheus.CounterVec
	rounds     prometheus.Counter
	height     prometheus.Gauge
	active     prometheus.Gauge
}

type poolMetrics struct {
	admitted *prometheus.CounterVec
	rejected *prometheus.CounterVec
	size     prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	poolMetricsOnce sync.Once
	poolRegistry    *poolMetrics
)

// Ledger returns the lazily-initialised registry tracking transaction and
// block application.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			applied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dpos",
				Subsystem: "ledger",
				Name:      "transactions_applied_total",
				Help:      "Transactions applied to the account store segmented by type.",
			}, []string{"type"}),
			reverted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dpos",
				Subsystem: "ledger",
				Name:      "transactions_reverted_total",
				Help:      "Transactions reverted from the account store segmented by type.",
			}, []string{"type"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dpos",
				Subsystem: "ledger",
				Name:      "validation_rejections_total",
				Help:      "Transactions that failed validation segmented by type and reason.",
			}, []string{"type", "reason"}),
			exceptions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dpos",
				Subsystem: "ledger",
				Name:      "forced_exceptions_total",
				Help:      "Whitelisted transactions applied without validation.",
			}),
			blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dpos",
				Subsystem: "ledger",
				Name:      "blocks_total",
				Help:      "Blocks applied or reverted.",
			}, []string{"direction"}),
			rounds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dpos",
				Subsystem: "ledger",
				Name:      "rounds_started_total",
				Help:      "Delegate rounds selected.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dpos",
				Subsystem: "ledger",
				Name:      "height",
				Help:      "Height of the last applied block.",
			}),
			active: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dpos",
				Subsystem: "ledger",
				Name:      "active_delegates",
				Help:      "Size of the forging list of the current round.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.applied,
			ledgerRegistry.reverted,
			ledgerRegistry.rejected,
			ledgerRegistry.exceptions,
			ledgerRegistry.blocks,
			ledgerRegistry.rounds,
			ledgerRegistry.height,
			ledgerRegistry.active,
		)
	})
	return ledgerRegistry
}

// RecordApplied counts one applied transaction.
func (m *ledgerMetrics) RecordApplied(txType string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(label(txType)).Inc()
}

// RecordReverted counts one reverted transaction.
func (m *ledgerMetrics) RecordReverted(txType string) {
	if m == nil {
		return
	}
	m.reverted.WithLabelValues(label(txType)).Inc()
}

// RecordRejection counts a validation failure. Reasons should be stable
// strings derived from the sentinel error.
func (m *ledgerMetrics) RecordRejection(txType, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(label(txType), label(reason)).Inc()
}

func (m *ledgerMetrics) RecordException() {
	if m == nil {
		return
	}
	m.exceptions.Inc()
}

// RecordBlock counts a block in the given direction ("apply" or "revert")
// and tracks the resulting height.
func (m *ledgerMetrics) RecordBlock(direction string, height uint64) {
	if m == nil {
		return
	}
	m.blocks.WithLabelValues(label(direction)).Inc()
	m.height.Set(float64(height))
}

// RecordRound counts a selected round and its forging list size.
func (m *ledgerMetrics) RecordRound(active int) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	m.active.Set(float64(active))
}

// Pool returns the registry tracking unconfirmed transaction admission.
func Pool() *poolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &poolMetrics{
			admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dpos",
				Subsystem: "pool",
				Name:      "admitted_total",
				Help:      "Transactions admitted to the pool segmented by type.",
			}, []string{"type"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dpos",
				Subsystem: "pool",
				Name:      "rejected_total",
				Help:      "Transactions refused by the pool segmented by reason.",
			}, []string{"reason"}),
			size: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dpos",
				Subsystem: "pool",
				Name:      "size",
				Help:      "Pending transactions held by the pool.",
			}),
		}
		prometheus.MustRegister(poolRegistry.admitted, poolRegistry.rejected, poolRegistry.size)
	})
	return poolRegistry
}

func (m *poolMetrics) RecordAdmitted(txType string, size int) {
	if m == nil {
		return
	}
	m.admitted.WithLabelValues(label(txType)).Inc()
	m.size.Set(float64(size))
}

func (m *poolMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(label(reason)).Inc()
}

// SetSize reports the current pool size.
func (m *poolMetrics) SetSize(size int) {
	if m == nil {
		return
	}
	m.size.Set(float64(size))
}

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
