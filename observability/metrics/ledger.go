package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records operation outcomes, fee volume and subscription
// activity of the wallet engine.
type LedgerMetrics struct {
	operations    *prometheus.CounterVec
	denials       *prometheus.CounterVec
	feeLegs       *prometheus.CounterVec
	subscriptions *prometheus.CounterVec
	batchSize     prometheus.Histogram
	migrations    prometheus.Counter
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the lazily registered ledger metrics.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of executed operations by kind, path and outcome.",
			}, []string{"kind", "path", "outcome"}),
			denials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "ledger",
				Name:      "failures_total",
				Help:      "Count of failed entry points by error class.",
			}, []string{"class"}),
			feeLegs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "billing",
				Name:      "fee_legs_total",
				Help:      "Count of routed fee legs by role and asset.",
			}, []string{"role", "asset"}),
			subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "billing",
				Name:      "subscription_touches_total",
				Help:      "Count of subscription trials and payments by scope.",
			}, []string{"scope", "trial"}),
			batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "agentvault",
				Subsystem: "ledger",
				Name:      "batch_instructions",
				Help:      "Distribution of instruction counts per batch.",
				Buckets:   []float64{1, 2, 3, 5, 8, 12, 15},
			}),
			migrations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agentvault",
				Subsystem: "ledger",
				Name:      "migrations_total",
				Help:      "Count of completed account migrations.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.denials,
			ledgerRegistry.feeLegs,
			ledgerRegistry.subscriptions,
			ledgerRegistry.batchSize,
			ledgerRegistry.migrations,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records one operation outcome. path is "direct" or
// "signed".
func (m *LedgerMetrics) ObserveOperation(kind, path string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(kind, path, outcome).Inc()
}

// ObserveFailure records a failed entry point by taxonomy class.
func (m *LedgerMetrics) ObserveFailure(class string) {
	if m == nil {
		return
	}
	if class == "" {
		class = "internal"
	}
	m.denials.WithLabelValues(class).Inc()
}

// ObserveFeeLeg records one routed fee leg.
func (m *LedgerMetrics) ObserveFeeLeg(role, asset string) {
	if m == nil {
		return
	}
	m.feeLegs.WithLabelValues(role, asset).Inc()
}

// ObserveSubscription records a subscription trial start or payment.
func (m *LedgerMetrics) ObserveSubscription(scope string, trial bool) {
	if m == nil {
		return
	}
	label := "false"
	if trial {
		label = "true"
	}
	m.subscriptions.WithLabelValues(scope, label).Inc()
}

// ObserveBatch records the size of an executed batch.
func (m *LedgerMetrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

// IncMigration counts a completed migration.
func (m *LedgerMetrics) IncMigration() {
	if m == nil {
		return
	}
	m.migrations.Inc()
}
