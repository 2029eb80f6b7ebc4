package confirm

import (
	"errors"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// ErrMissingIdentifier is returned when a request carries neither a session nor a booking id
var ErrMissingIdentifier = errors.New("sessionId or bookingId is required")

// Request is the body of POST /api/confirm-payment
type Request struct {
	SessionID     string `json:"sessionId,omitempty"`
	BookingID     string `json:"bookingId,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`

	// Booking carries form data used when the booking has to be reconstructed
	Booking *BookingDetails `json:"booking,omitempty"`
}

// BookingDetails are the client-supplied booking fields
type BookingDetails struct {
	ClientName  string `json:"clientName,omitempty"`
	ClientEmail string `json:"clientEmail,omitempty"`
	ClientPhone string `json:"clientPhone,omitempty"`
	EventType   string `json:"eventType,omitempty"`
	EventDate   string `json:"eventDate,omitempty"`
	Venue       string `json:"venue,omitempty"`
	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	DJEmail     string `json:"djEmail,omitempty"`
}

// Response is returned for every request that carried an identifier.
// An email failure is reported in EmailError; Success stays true.
type Response struct {
	Success    bool                          `json:"success"`
	EmailSent  bool                          `json:"emailSent"`
	EmailError string                        `json:"emailError"`
	BookingID  string                        `json:"bookingId,omitempty"`
	PaymentID  string                        `json:"paymentId,omitempty"`
	State      bookingsync.ConfirmationState `json:"state,omitempty"`
	Error      string                        `json:"error,omitempty"`
}
