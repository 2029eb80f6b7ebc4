package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// Config holds configuration for the status API handler
type Config struct {
	// Store is read for bookings and subscriptions (required)
	Store bookingsync.Store

	// GetBookingID extracts the booking id from the request
	// Default: FromQuery("booking_id")
	GetBookingID func(*http.Request) string

	// GetEmail extracts the DJ email from the request
	// Default: FromQuery("email")
	GetEmail func(*http.Request) string

	// OnError handles errors (not found, internal, etc.)
	// If nil, writes {"error": ...} with the matching status code
	OnError func(http.ResponseWriter, *http.Request, error)

	// Now is used to decide whether a subscription period has lapsed
	// Default: time.Now
	Now func() time.Time
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	return nil
}

// NewHandler creates a new status API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetBookingID == nil {
		config.GetBookingID = FromQuery("booking_id")
	}
	if config.GetEmail == nil {
		config.GetEmail = FromQuery("email")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Handler{config: config}, nil
}

// FromQuery returns an extractor reading a URL query parameter
func FromQuery(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}

// FromHeader returns an extractor reading a request header
func FromHeader(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(name)
	}
}
