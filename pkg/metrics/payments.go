package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics counts provider calls and money-pipeline outcomes.
type PaymentMetrics struct {
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	webhooks *prometheus.CounterVec
	amounts  *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	m := &PaymentMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "provider_calls_total",
			Help:      "Payment provider calls by operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "provider_call_seconds",
			Help:      "Latency of payment provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "webhooks_total",
			Help:      "Provider webhook deliveries by outcome.",
		}, []string{"provider", "outcome"}),
		amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "amount_cents_total",
			Help:      "Money moved through the pipeline, in minor units.",
		}, []string{"kind", "currency"}),
	}
	reg.MustRegister(m.calls, m.latency, m.webhooks, m.amounts)
	return m
}

// ObserveCall records one provider call. A nil err counts as success.
func (m *PaymentMetrics) ObserveCall(provider, operation string, started time.Time, err error) {
	if m == nil || m.calls == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation), outcome).Inc()
	m.latency.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(time.Since(started).Seconds())
}

func (m *PaymentMetrics) IncWebhook(provider, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// AddAmount accumulates captured, refunded and paid-out totals.
func (m *PaymentMetrics) AddAmount(kind, currency string, cents int64) {
	if m == nil || m.amounts == nil || cents <= 0 {
		return
	}
	m.amounts.WithLabelValues(normalizeLabel(kind), normalizeLabel(currency)).Add(float64(cents))
}
