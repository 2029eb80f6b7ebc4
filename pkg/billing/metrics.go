package billing

import "time"

// Metrics tracks webhook intake and provider API traffic.
// Label values are normalized event kinds and route templates, never ids.
type Metrics interface {
	// RecordWebhookEvent counts a verified event by what the Dispatcher did with it.
	// outcome: "processed", "duplicate", "ignored" or "error"
	RecordWebhookEvent(provider, kind, outcome string, duration time.Duration)

	// RecordWebhookRejected counts a delivery refused before dispatch.
	// reason: "not_configured", "payload_too_large", "invalid_payload", "auth_failed", "verify_unavailable"
	RecordWebhookRejected(provider, reason string)

	// RecordSubscriptionChange counts a DJ plan transition written to storage.
	RecordSubscriptionChange(provider, fromTier, toTier, status string)

	// RecordBookingPayment counts a booking payment status written from a webhook.
	RecordBookingPayment(provider, paymentStatus string)

	// RecordProviderCall records an outbound call to a provider API.
	// status is the HTTP status code, or "error" when no response arrived.
	RecordProviderCall(provider, endpoint, status string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookRejected(_, _ string)                  {}
func (n *NoopMetrics) RecordSubscriptionChange(_, _, _, _ string)         {}
func (n *NoopMetrics) RecordBookingPayment(_, _ string)                   {}
func (n *NoopMetrics) RecordProviderCall(_, _, _ string, _ time.Duration) {}
