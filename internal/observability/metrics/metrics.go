// Package metrics exposes prometheus instrumentation for the billing engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics counts billing-run outcomes and latency.
type BillingMetrics struct {
	runsTotal           prometheus.Counter
	agreementsProcessed prometheus.Counter
	agreementsFailed    prometheus.Counter
	numberConflicts     prometheus.Counter
	runDuration         prometheus.Histogram
}

func NewBillingMetrics() *BillingMetrics {
	return newBillingMetrics(prometheus.DefaultRegisterer)
}

func newBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	factory := promauto.With(reg)
	return &BillingMetrics{
		runsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "torqvoice_billing_runs_total",
			Help: "Number of recurring billing runs started.",
		}),
		agreementsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "torqvoice_billing_agreements_processed_total",
			Help: "Number of agreements successfully materialized into invoices.",
		}),
		agreementsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "torqvoice_billing_agreements_failed_total",
			Help: "Number of agreements whose materialization rolled back.",
		}),
		numberConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "torqvoice_invoice_number_conflicts_total",
			Help: "Number of invoice-number collisions that triggered a retry.",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "torqvoice_billing_run_duration_seconds",
			Help:    "Wall-clock duration of a full billing run.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *BillingMetrics) IncRun() {
	if m == nil {
		return
	}
	m.runsTotal.Inc()
}

func (m *BillingMetrics) AddProcessed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.agreementsProcessed.Add(float64(n))
}

func (m *BillingMetrics) AddFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.agreementsFailed.Add(float64(n))
}

func (m *BillingMetrics) IncNumberConflict() {
	if m == nil {
		return
	}
	m.numberConflicts.Inc()
}

func (m *BillingMetrics) ObserveRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}
