package billing

import (
	"encoding/json"
	"time"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// EventKind is the provider-independent classification of a webhook event.
// Providers translate their own type strings into a kind through a static table;
// anything not in the table is EventUnknown and acknowledged without processing.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionCancelled
	EventSubscriptionSuspended
	EventSubscriptionReactivated
	EventSubscriptionPaymentFailed
	EventPaymentSucceeded
	EventPaymentFailed
	EventCheckoutCompleted
	EventBookingPaymentSucceeded
	EventBookingPaymentFailed

	eventKindCount
)

var eventKindNames = [eventKindCount]string{
	EventUnknown:                   "unknown",
	EventSubscriptionCreated:       "subscription_created",
	EventSubscriptionUpdated:       "subscription_updated",
	EventSubscriptionCancelled:     "subscription_cancelled",
	EventSubscriptionSuspended:     "subscription_suspended",
	EventSubscriptionReactivated:   "subscription_reactivated",
	EventSubscriptionPaymentFailed: "subscription_payment_failed",
	EventPaymentSucceeded:          "payment_succeeded",
	EventPaymentFailed:             "payment_failed",
	EventCheckoutCompleted:         "checkout_completed",
	EventBookingPaymentSucceeded:   "booking_payment_succeeded",
	EventBookingPaymentFailed:      "booking_payment_failed",
}

func (k EventKind) String() string {
	if k < 0 || k >= eventKindCount {
		return eventKindNames[EventUnknown]
	}
	return eventKindNames[k]
}

// AllEventKinds returns every kind that must have a handler, i.e. all but EventUnknown
func AllEventKinds() []EventKind {
	kinds := make([]EventKind, 0, eventKindCount-1)
	for k := EventUnknown + 1; k < eventKindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Event is a verified provider event on its way to a handler
type Event struct {
	Provider bookingsync.Provider

	// ID is the provider's event id, used for ledger de-duplication
	ID string

	// Type is the provider's raw event type string
	Type string

	Kind EventKind

	// OccurredAt is the provider's creation timestamp of the event
	OccurredAt time.Time

	// Data is the event's resource object exactly as delivered
	Data json.RawMessage

	// Metadata is optional provider data forwarded to the WebhookCallback
	Metadata map[string]string
}
