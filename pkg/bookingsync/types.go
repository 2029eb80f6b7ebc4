package bookingsync

import (
	"strings"
	"time"
)

// Tier is a named subscription plan level
type Tier string

const (
	// TierStandard is the entry plan and the fallback for unrecognized plan references
	TierStandard Tier = "standard"
	// TierPremium is the upper plan
	TierPremium Tier = "premium"
)

// SubscriptionStatus is the lifecycle status of a DJ's billing plan
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
)

// Provider identifies the payment provider that owns a subscription or payment
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// PaymentStatus is the payment state of a booking
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// ConfirmationState is the derived confirmation lifecycle of a booking
type ConfirmationState string

const (
	StateCreated               ConfirmationState = "created"
	StatePaid                  ConfirmationState = "paid"
	StateConfirmed             ConfirmationState = "confirmed"
	StateConfirmedEmailPending ConfirmationState = "confirmed-email-pending"
)

// Booking represents one client event engagement
type Booking struct {
	ID string

	ClientName  string
	ClientEmail string
	ClientPhone string

	EventType string
	EventDate string
	Venue     string
	StartTime string
	EndTime   string

	// Amount is expressed in the currency's minor unit
	Amount   int64
	Currency string

	PaymentStatus PaymentStatus
	PaymentMethod string
	PaymentID     string
	SessionID     string

	// DJEmail is the DJ that owns the booking, used as reply-to on confirmations
	DJEmail string

	EmailSent      bool
	EmailError     string
	EmailMessageID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConfirmationState derives where the booking is in its confirmation lifecycle.
// There is no terminal failure state: an email failure leaves the booking confirmed.
func (b *Booking) ConfirmationState() ConfirmationState {
	switch {
	case b.PaymentStatus != PaymentPaid:
		return StateCreated
	case b.EmailSent:
		return StateConfirmed
	case b.EmailError != "":
		return StateConfirmedEmailPending
	default:
		return StatePaid
	}
}

// Subscription represents a DJ's billing plan, keyed by the DJ's email address
type Subscription struct {
	Email    string
	Tier     Tier
	Status   SubscriptionStatus
	Provider Provider

	CustomerID     string
	SubscriptionID string
	PlanID         string

	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	CancelledAt         time.Time
	LastPaymentAt       time.Time
	LastPaymentFailedAt time.Time

	// StatusChangedAt is the provider timestamp of the event that last set Status or Tier
	StatusChangedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BookingPatch is a partial set of booking fields. Zero values mean "not set".
type BookingPatch struct {
	ClientName  string
	ClientEmail string
	ClientPhone string
	EventType   string
	EventDate   string
	Venue       string
	StartTime   string
	EndTime     string
	Amount      int64
	Currency    string

	PaymentStatus PaymentStatus
	PaymentMethod string
	PaymentID     string
	SessionID     string
	DJEmail       string

	EmailSent      bool
	EmailError     string
	EmailMessageID string

	// EventAt is when the change happened according to its source
	EventAt time.Time
}

// SubscriptionPatch is a partial set of subscription fields. Zero values mean "not set".
type SubscriptionPatch struct {
	Tier     Tier
	Status   SubscriptionStatus
	Provider Provider

	CustomerID     string
	SubscriptionID string
	PlanID         string

	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	CancelledAt         time.Time
	LastPaymentAt       time.Time
	LastPaymentFailedAt time.Time

	// EventAt is the provider timestamp of the event carrying this patch
	EventAt time.Time
}

// BookingUpdate describes the outcome of a booking upsert
type BookingUpdate struct {
	// Previous is nil when the booking did not exist before the upsert
	Previous *Booking
	Current  Booking
	// Changed is false when the merge produced the record already stored
	Changed bool
}

// SubscriptionUpdate describes the outcome of a subscription upsert
type SubscriptionUpdate struct {
	Previous *Subscription
	Current  Subscription
	Changed  bool
}

// PreviousTier returns the tier before the upsert, or empty for a new record
func (u *SubscriptionUpdate) PreviousTier() Tier {
	if u.Previous == nil {
		return ""
	}
	return u.Previous.Tier
}

// NormalizeEmail lower-cases and trims an email so it can be used as a stable key
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckoutSession is what a payment provider reports about a hosted checkout.
// The confirmation flow uses it to find and, if needed, reconstruct a booking.
type CheckoutSession struct {
	ID        string
	BookingID string
	PaymentID string

	ClientName  string
	ClientEmail string
	DJEmail     string

	Amount   int64
	Currency string
	Paid     bool

	Metadata map[string]string
}
