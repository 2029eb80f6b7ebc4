package bookingsync

import "errors"

var (
	// ErrBookingNotFound is returned when no booking exists for the id
	ErrBookingNotFound = errors.New("booking not found")

	// ErrSubscriptionNotFound is returned when no subscription exists for the key
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvalidKey is returned for an empty booking id or subscription email
	ErrInvalidKey = errors.New("invalid record key")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrEventAlreadyProcessed is returned when a provider event was already recorded in the ledger
	ErrEventAlreadyProcessed = errors.New("webhook event already processed")
)

// IsNotFound reports whether err means the record does not exist yet
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound) || errors.Is(err, ErrSubscriptionNotFound)
}
