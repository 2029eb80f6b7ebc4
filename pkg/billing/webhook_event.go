package billing

import (
	"time"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// WebhookEvent contains information about a successfully processed webhook event.
// It is passed to the WebhookCallback after the booking or subscription was
// updated in storage.
type WebhookEvent struct {
	// Provider is the payment provider that sent the event
	Provider bookingsync.Provider

	// EventID is the provider's event identifier
	EventID string

	// EventType is the provider-specific event type
	// Stripe: "checkout.session.completed", "invoice.payment_succeeded", etc.
	// PayPal: "BILLING.SUBSCRIPTION.CANCELLED", "PAYMENT.SALE.COMPLETED", etc.
	EventType string

	// Kind is the normalized event kind
	Kind EventKind

	// EventTimestamp is when the event occurred (from provider)
	EventTimestamp time.Time

	// Email is the DJ email of an affected subscription
	Email string

	// PreviousTier is the tier before the update (empty string if new subscription)
	PreviousTier bookingsync.Tier

	// NewTier is the tier after the update
	NewTier bookingsync.Tier

	// Status is the subscription status after the update
	Status bookingsync.SubscriptionStatus

	// BookingID is set for events that touched a booking
	BookingID string

	// PaymentStatus is the booking payment status after the update
	PaymentStatus bookingsync.PaymentStatus

	// Metadata contains provider-specific additional data
	// Stripe: checkout session / subscription metadata
	// PayPal: custom_id and plan_id from the resource
	Metadata map[string]string
}

// BookingPaid reports whether the event left a booking in the paid state
func (e WebhookEvent) BookingPaid() bool {
	return e.BookingID != "" && e.PaymentStatus == bookingsync.PaymentPaid
}

// SubscriptionEvent builds a WebhookEvent from a subscription upsert result
func SubscriptionEvent(ev *Event, update *bookingsync.SubscriptionUpdate) *WebhookEvent {
	if update == nil || !update.Changed {
		return nil
	}
	return &WebhookEvent{
		Provider:       ev.Provider,
		EventID:        ev.ID,
		EventType:      ev.Type,
		Kind:           ev.Kind,
		EventTimestamp: ev.OccurredAt,
		Email:          update.Current.Email,
		PreviousTier:   update.PreviousTier(),
		NewTier:        update.Current.Tier,
		Status:         update.Current.Status,
		Metadata:       ev.Metadata,
	}
}

// BookingEvent builds a WebhookEvent from a booking upsert result.
// Unchanged bookings still produce an event when paid, so a lost callback can be
// replayed by a provider retry.
func BookingEvent(ev *Event, update *bookingsync.BookingUpdate) *WebhookEvent {
	if update == nil {
		return nil
	}
	if !update.Changed && update.Current.PaymentStatus != bookingsync.PaymentPaid {
		return nil
	}
	return &WebhookEvent{
		Provider:       ev.Provider,
		EventID:        ev.ID,
		EventType:      ev.Type,
		Kind:           ev.Kind,
		EventTimestamp: ev.OccurredAt,
		BookingID:      update.Current.ID,
		PaymentStatus:  update.Current.PaymentStatus,
		Metadata:       ev.Metadata,
	}
}
