package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "billing"

// Operation results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultPayment  = "payment_error"
	ResultPending  = "pending"
	ResultError    = "error"
)

// Entitlement decisions.
const (
	DecisionAllowed     = "allowed"
	DecisionNotEntitled = "not_entitled"
	DecisionQuota       = "quota_exceeded"
	DecisionInactive    = "inactive"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	operationTime *prometheus.HistogramVec
	payments      *prometheus.CounterVec
	entitlements  *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	pointsAwards  *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Total number of lifecycle operations by result",
		}, []string{"operation", "result"}),
		operationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "operation_duration_seconds",
			Help:      "Lifecycle operation duration in seconds, gateway calls included",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		payments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "charges_total",
			Help:      "Total number of gateway charges by outcome",
		}, []string{"intent", "outcome"}),
		entitlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "decisions_total",
			Help:      "Total number of entitlement decisions",
		}, []string{"feature", "decision"}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "processed_total",
			Help:      "Total number of subscriptions processed by sweeps",
		}, []string{"sweep", "result"}),
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of gateway events by type and result",
		}, []string{"type", "result"}),
		pointsAwards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gamification",
			Name:      "awards_total",
			Help:      "Total number of points awards by result",
		}, []string{"result"}),
	}
}

// ObserveOperation records a finished lifecycle operation.
func (m *Metrics) ObserveOperation(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.operationTime.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveCharge records the outcome of a gateway charge.
func (m *Metrics) ObserveCharge(intent, outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(intent, outcome).Inc()
}

// ObserveEntitlement records an entitlement decision.
func (m *Metrics) ObserveEntitlement(feature, decision string) {
	if m == nil {
		return
	}
	m.entitlements.WithLabelValues(feature, decision).Inc()
}

// ObserveSweep records how many subscriptions a sweep processed.
func (m *Metrics) ObserveSweep(sweep, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweeps.WithLabelValues(sweep, result).Add(float64(n))
}

// ObserveWebhook records a reconciled gateway event.
func (m *Metrics) ObserveWebhook(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// ObserveAward records a points award attempt.
func (m *Metrics) ObserveAward(result string) {
	if m == nil {
		return
	}
	m.pointsAwards.WithLabelValues(result).Inc()
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
