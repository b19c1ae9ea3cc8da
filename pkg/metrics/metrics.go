// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing, so tests that don't care about instrumentation can skip it.
type Metrics struct {
	OrdersPlaced     prometheus.Counter
	OrdersCancelled  prometheus.Counter
	OrdersFilled     prometheus.Counter
	PartialFills     prometheus.Counter
	RestingOrders    prometheus.Gauge
	BatchesDeferred  prometheus.Counter
	BatchesResolved  prometheus.Counter
	PaymentsDeferred prometheus.Counter
	PaymentsResolved prometheus.Counter
}

// New registers the engine collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersPlaced: f.NewCounter(prometheus.CounterOpts{
			Name: "rangebook_orders_placed_total",
			Help: "Resting orders accepted.",
		}),
		OrdersCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "rangebook_orders_cancelled_total",
			Help: "Resting orders cancelled.",
		}),
		OrdersFilled: f.NewCounter(prometheus.CounterOpts{
			Name: "rangebook_orders_filled_total",
			Help: "Resting orders fully filled (includes dust closures).",
		}),
		PartialFills: f.NewCounter(prometheus.CounterOpts{
			Name: "rangebook_partial_fills_total",
			Help: "Partial fills that left a narrowed order resting.",
		}),
		RestingOrders: f.NewGauge(prometheus.GaugeOpts{
			Name: "rangebook_resting_orders",
			Help: "Currently resting orders across all pools.",
		}),
		BatchesDeferred: f.NewCounter(prometheus.CounterOpts{
			Name: "rangebook_deferred_batches_total",
			Help: "Execution batches deferred past the per-pass budget.",
		}),
		BatchesResolved: f.NewCounter(prometheus.CounterOpts{
			Name: "rangebook_resolved_batches_total",
			Help: "Deferred execution batches resolved.",
		}),
		PaymentsDeferred: f.NewCounter(prometheus.CounterOpts{
			Name: "rangebook_deferred_payments_total",
			Help: "Settlements converted into deferred payments.",
		}),
		PaymentsResolved: f.NewCounter(prometheus.CounterOpts{
			Name: "rangebook_resolved_payments_total",
			Help: "Deferred payments resolved.",
		}),
	}
}

// IncOrdersPlaced and friends are nil-safe wrappers used by the engine.

func (m *Metrics) IncOrdersPlaced() {
	if m != nil {
		m.OrdersPlaced.Inc()
		m.RestingOrders.Inc()
	}
}

func (m *Metrics) IncOrdersCancelled() {
	if m != nil {
		m.OrdersCancelled.Inc()
		m.RestingOrders.Dec()
	}
}

func (m *Metrics) IncOrdersFilled() {
	if m != nil {
		m.OrdersFilled.Inc()
		m.RestingOrders.Dec()
	}
}

func (m *Metrics) IncPartialFills() {
	if m != nil {
		m.PartialFills.Inc()
	}
}

func (m *Metrics) IncBatchesDeferred() {
	if m != nil {
		m.BatchesDeferred.Inc()
	}
}

func (m *Metrics) IncBatchesResolved() {
	if m != nil {
		m.BatchesResolved.Inc()
	}
}

func (m *Metrics) IncPaymentsDeferred() {
	if m != nil {
		m.PaymentsDeferred.Inc()
	}
}

func (m *Metrics) IncPaymentsResolved() {
	if m != nil {
		m.PaymentsResolved.Inc()
	}
}

// SetRestingOrders forces the gauge, used after a warm start reload.
func (m *Metrics) SetRestingOrders(n int) {
	if m != nil {
		m.RestingOrders.Set(float64(n))
	}
}
