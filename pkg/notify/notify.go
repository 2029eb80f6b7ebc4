// Package notify sends booking confirmation emails.
package notify

import (
	"context"
	"errors"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

var (
	// ErrNotConfigured is reported when no mail transport is configured
	ErrNotConfigured = errors.New("notifier not configured")

	// ErrNoRecipient is reported when the booking has no client email
	ErrNoRecipient = errors.New("booking has no client email")
)

// Result is the outcome of one send attempt
type Result struct {
	// MessageID is the Message-ID of the sent email, empty on failure
	MessageID string
	Err       error
}

// Sent reports whether the message was handed to the mail server
func (r Result) Sent() bool {
	return r.Err == nil
}

// Notifier delivers the confirmation email for a paid booking.
// Send never panics; every failure is reported through Result.Err.
type Notifier interface {
	Send(ctx context.Context, booking bookingsync.Booking) Result
}
