package bookingsync

import (
	"context"
	"time"
)

// Store defines the document-store primitives the reconciliation logic relies on.
// Bookings are keyed by id, subscriptions by normalized DJ email.
type Store interface {
	// GetBooking returns ErrBookingNotFound when the booking does not exist
	GetBooking(ctx context.Context, id string) (*Booking, error)

	// PutBooking writes the booking, merging into any fields the store holds
	// that this package does not model
	PutBooking(ctx context.Context, b *Booking) error

	// GetSubscription returns ErrSubscriptionNotFound when no record exists for the email
	GetSubscription(ctx context.Context, email string) (*Subscription, error)

	// PutSubscription writes the subscription with the same merge semantics as PutBooking
	PutSubscription(ctx context.Context, sub *Subscription) error

	// FindSubscriptionByProviderID looks a subscription up by the provider's subscription id.
	// Used when an event does not carry the DJ email.
	FindSubscriptionByProviderID(ctx context.Context, provider Provider, subscriptionID string) (*Subscription, error)
}

// BookingMutator receives the current booking (nil if missing) and returns the
// record to write, or nil to skip the write.
type BookingMutator func(current *Booking) (*Booking, error)

// SubscriptionMutator is the subscription counterpart of BookingMutator.
type SubscriptionMutator func(current *Subscription) (*Subscription, error)

// AtomicStore is implemented by stores that can run a read-modify-write on a
// single document atomically (Firestore transactions, SELECT FOR UPDATE).
// The Upserter prefers it over separate Get/Put calls when available.
type AtomicStore interface {
	UpdateBooking(ctx context.Context, id string, fn BookingMutator) error
	UpdateSubscription(ctx context.Context, email string, fn SubscriptionMutator) error
}

// ProcessedEvent is a provider event recorded in the ledger after successful handling
type ProcessedEvent struct {
	ID          string
	Provider    Provider
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// EventLedger tracks provider event ids that were already handled so that
// re-deliveries can be acknowledged without reprocessing. Handlers stay
// idempotent on their own; the ledger only short-circuits repeated work.
type EventLedger interface {
	// HasProcessed reports whether the event id was recorded for the provider
	HasProcessed(ctx context.Context, provider Provider, eventID string) (bool, error)

	// RecordEvent records the event as processed.
	// Returns ErrEventAlreadyProcessed if it was recorded before.
	RecordEvent(ctx context.Context, event ProcessedEvent) error
}

// UpdateBooking runs fn against the store, atomically when the store supports it.
func UpdateBooking(ctx context.Context, store Store, id string, fn BookingMutator) error {
	if atomic, ok := store.(AtomicStore); ok {
		return atomic.UpdateBooking(ctx, id, fn)
	}

	current, err := store.GetBooking(ctx, id)
	if err != nil && !IsNotFound(err) {
		return err
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	return store.PutBooking(ctx, next)
}

// UpdateSubscription runs fn against the store, atomically when the store supports it.
func UpdateSubscription(ctx context.Context, store Store, email string, fn SubscriptionMutator) error {
	if atomic, ok := store.(AtomicStore); ok {
		return atomic.UpdateSubscription(ctx, email, fn)
	}

	current, err := store.GetSubscription(ctx, email)
	if err != nil && !IsNotFound(err) {
		return err
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	return store.PutSubscription(ctx, next)
}

// LedgerKey builds the document key used by ledger implementations
func LedgerKey(provider Provider, eventID string) string {
	return string(provider) + ":" + eventID
}
