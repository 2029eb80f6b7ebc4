// Package prommetrics implements billing.Metrics on top of Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/bookingsync/pkg/billing"
)

const subsystem = "webhook"

// Metrics implements billing.Metrics
type Metrics struct {
	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	rejected      *prometheus.CounterVec
	planChanges   *prometheus.CounterVec
	payments      *prometheus.CounterVec
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
}

// NewMetrics registers the webhook collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Verified webhook events by provider, event kind and dispatch outcome.",
		}, []string{"provider", "kind", "outcome"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_duration_seconds",
			Help:      "Time spent dispatching a verified webhook event.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"provider", "kind"}),

		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejected_total",
			Help:      "Webhook deliveries refused before dispatch.",
		}, []string{"provider", "reason"}),

		planChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscription_changes_total",
			Help:      "DJ plan transitions written from webhooks.",
		}, []string{"provider", "from_tier", "to_tier", "status"}),

		payments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "booking_payments_total",
			Help:      "Booking payment states written from webhooks.",
		}, []string{"provider", "payment_status"}),

		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider_api",
			Name:      "calls_total",
			Help:      "Outbound calls to payment provider APIs.",
		}, []string{"provider", "endpoint", "status"}),

		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider_api",
			Name:      "call_duration_seconds",
			Help:      "Latency of outbound calls to payment provider APIs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "endpoint"}),
	}
}

func (m *Metrics) RecordWebhookEvent(provider, kind, outcome string, duration time.Duration) {
	m.events.WithLabelValues(provider, kind, outcome).Inc()
	if outcome == "processed" || outcome == "error" {
		m.eventDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordWebhookRejected(provider, reason string) {
	m.rejected.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) RecordSubscriptionChange(provider, fromTier, toTier, status string) {
	if fromTier == "" {
		fromTier = "none"
	}
	m.planChanges.WithLabelValues(provider, fromTier, toTier, status).Inc()
}

func (m *Metrics) RecordBookingPayment(provider, paymentStatus string) {
	m.payments.WithLabelValues(provider, paymentStatus).Inc()
}

func (m *Metrics) RecordProviderCall(provider, endpoint, status string, duration time.Duration) {
	m.calls.WithLabelValues(provider, endpoint, status).Inc()
	m.callDuration.WithLabelValues(provider, endpoint).Observe(duration.Seconds())
}

var _ billing.Metrics = (*Metrics)(nil)
