package bookingsync

import "time"

// Metrics defines the interface for tracking record reconciliation and notification.
type Metrics interface {
	// RecordUpsert records a booking or subscription upsert.
	// kind: "booking" or "subscription"; outcome: "created", "updated", "unchanged" or "error".
	RecordUpsert(kind, outcome string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)

	// RecordNotification records a confirmation email attempt.
	// status: "sent", "failed" or "skipped"
	RecordNotification(status string, duration time.Duration)

	// RecordConfirmation records the resulting state of a confirmation request.
	RecordConfirmation(state ConfirmationState)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordUpsert(kind, outcome string)                                          {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
func (n *NoopMetrics) RecordNotification(status string, duration time.Duration)                   {}
func (n *NoopMetrics) RecordConfirmation(state ConfirmationState)                                 {}
