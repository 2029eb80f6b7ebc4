package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Upserter applies the reconciled booking and subscription changes
	Upserter *bookingsync.Upserter

	// TierMapping maps provider price/plan IDs to tiers.
	// For example: map[string]string{"price_1Pxyz": "premium", "P-5ML4271244454362": "standard"}
	// Unrecognized IDs resolve to the standard tier.
	TierMapping map[string]string

	// Ledger records processed provider event ids so re-deliveries are acknowledged
	// without running handlers again. Optional: handlers are idempotent on their own.
	Ledger bookingsync.EventLedger

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// RateLimitPerMinute caps webhook requests per client IP. Zero uses the provider default,
	// a negative value disables the limiter.
	RateLimitPerMinute int

	// Logger is an optional structured logger. Defaults to a no-op logger.
	Logger bookingsync.Logger

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	Metrics Metrics

	// WebhookCallback is invoked after an event changed a booking or subscription.
	// Errors are logged and never fail the webhook: the record is already committed.
	WebhookCallback func(ctx context.Context, event WebhookEvent) error
}
