package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconcile results, used as the "result" label.
const (
	ReconcileConfirmed     = "confirmed"
	ReconcileNoOp          = "noop"
	ReconcileRecorded      = "recorded"
	ReconcileStockOut      = "stock_out"
	ReconcileAmountInvalid = "amount_mismatch"
	ReconcileNotPayable    = "not_payable"
	ReconcileError         = "error"
)

// ReconcileMetrics tracks payment settlement outcomes.
type ReconcileMetrics struct {
	outcomes  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	stockOuts prometheus.Counter
}

// NewReconcileMetrics registers the reconcile collectors on reg.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_outcomes_total",
		Help: "Payment signals reconciled, by gateway outcome and result.",
	}, []string{"outcome", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconcile_duration_seconds",
		Help:    "Time spent reconciling a payment signal.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	stockOuts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_stock_outs_total",
		Help: "Paid orders that could not be reserved and need a refund.",
	})
	reg.MustRegister(outcomes, duration, stockOuts)
	return &ReconcileMetrics{
		outcomes:  outcomes,
		duration:  duration,
		stockOuts: stockOuts,
	}
}

// Observe records one reconcile call.
func (m *ReconcileMetrics) Observe(outcome, result string, elapsed time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.outcomes.WithLabelValues(outcome, normalizeLabel(result)).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if result == ReconcileStockOut {
		m.stockOuts.Inc()
	}
}
