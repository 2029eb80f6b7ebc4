// Package api serves read-only status endpoints over the reconciled records.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

const (
	statusNone  = "none"
	maxIDLength = 255
)

// Handler provides HTTP endpoints for booking and subscription status
type Handler struct {
	config Config
}

// BookingStatus returns the confirmation state of a single booking
func (h *Handler) BookingStatus(w http.ResponseWriter, r *http.Request) {
	id := h.config.GetBookingID(r)
	if id == "" || len(id) > maxIDLength {
		h.handleError(w, r, fmt.Errorf("invalid booking id"), http.StatusBadRequest)
		return
	}

	b, err := h.config.Store.GetBooking(r.Context(), id)
	if errors.Is(err, bookingsync.ErrBookingNotFound) {
		h.handleError(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get booking: %w", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, BookingStatusResponse{
		BookingID:     b.ID,
		State:         string(b.ConfirmationState()),
		PaymentStatus: string(b.PaymentStatus),
		EmailSent:     b.EmailSent,
	})
}

// SubscriptionStatus returns the tier a DJ currently holds. A DJ with no record
// is reported on the standard tier with status "none" rather than as an error.
func (h *Handler) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	email := bookingsync.NormalizeEmail(h.config.GetEmail(r))
	if email == "" || len(email) > maxIDLength {
		h.handleError(w, r, fmt.Errorf("invalid email"), http.StatusBadRequest)
		return
	}

	sub, err := h.config.Store.GetSubscription(r.Context(), email)
	if errors.Is(err, bookingsync.ErrSubscriptionNotFound) {
		writeJSON(w, SubscriptionStatusResponse{
			Email:  email,
			Tier:   string(bookingsync.TierStandard),
			Status: statusNone,
		})
		return
	}
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get subscription: %w", err), http.StatusInternalServerError)
		return
	}

	resp := SubscriptionStatusResponse{
		Email:    sub.Email,
		Tier:     string(sub.Tier),
		Status:   string(sub.Status),
		Provider: string(sub.Provider),
		Active:   h.active(sub),
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		resp.CurrentPeriodEnd = &end
	}
	writeJSON(w, resp)
}

// active treats a cancelled plan as usable until the paid period runs out
func (h *Handler) active(sub *bookingsync.Subscription) bool {
	switch sub.Status {
	case bookingsync.SubscriptionActive, bookingsync.SubscriptionPastDue:
		return true
	case bookingsync.SubscriptionCancelled:
		return !sub.CurrentPeriodEnd.IsZero() && h.config.Now().Before(sub.CurrentPeriodEnd)
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
