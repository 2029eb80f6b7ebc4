package api

import "time"

// BookingStatusResponse is what the checkout success page polls for
type BookingStatusResponse struct {
	BookingID     string `json:"bookingId"`
	State         string `json:"state"` // "created", "paid", "confirmed", "confirmed-email-pending"
	PaymentStatus string `json:"paymentStatus"`
	EmailSent     bool   `json:"emailSent"`
}

// SubscriptionStatusResponse reports the plan a DJ is entitled to right now
type SubscriptionStatusResponse struct {
	Email string `json:"email"`
	Tier  string `json:"tier"`
	// Status is the stored provider status, or "none" when no record exists
	Status string `json:"status"`
	// Active is true while the DJ may use Tier
	Active           bool       `json:"active"`
	Provider         string     `json:"provider,omitempty"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}
