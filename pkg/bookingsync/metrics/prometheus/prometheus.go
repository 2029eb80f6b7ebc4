// Package prommetrics implements bookingsync.Metrics on top of Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// Metrics implements bookingsync.Metrics using Prometheus.
type Metrics struct {
	upsertsTotal               *prometheus.CounterVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	notificationDuration       *prometheus.HistogramVec
	confirmationsTotal         *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		upsertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_upserts_total",
			Help:      "Total number of booking and subscription upserts by outcome.",
		}, []string{"kind", "outcome"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),

		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of confirmation email attempts by status.",
		}, []string{"status"}),

		notificationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Latency of confirmation email sends.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"status"}),

		confirmationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Total number of confirmation requests by resulting booking state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordUpsert(kind, outcome string) {
	m.upsertsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordNotification(status string, duration time.Duration) {
	m.notificationsTotal.WithLabelValues(status).Inc()
	if status != "skipped" {
		m.notificationDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordConfirmation(state bookingsync.ConfirmationState) {
	m.confirmationsTotal.WithLabelValues(string(state)).Inc()
}
