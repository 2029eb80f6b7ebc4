package billing

import (
	"net/http"
)

// Provider is the generic interface that any payment provider integration must implement.
// Webhook processing is provider-specific; record reconciliation is shared through
// the Dispatcher and the bookingsync.Upserter.
type Provider interface {
	// Name returns the provider name (e.g., "stripe", "paypal")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles verification, parsing and record updates internally.
	WebhookHandler() http.Handler
}
