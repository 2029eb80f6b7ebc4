package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
	"github.com/mihaimyh/bookingsync/storage/memory"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, store bookingsync.Store) *Handler {
	t.Helper()
	h, err := NewHandler(Config{Store: store, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return h
}

func TestNewHandler_RequiresStore(t *testing.T) {
	_, err := NewHandler(Config{})
	assert.Error(t, err)
}

func TestHandler_BookingStatus(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.PutBooking(ctx, &bookingsync.Booking{
		ID: "bk-1", PaymentStatus: bookingsync.PaymentPaid, EmailSent: true, CreatedAt: testNow,
	}))
	require.NoError(t, store.PutBooking(ctx, &bookingsync.Booking{
		ID: "bk-2", PaymentStatus: bookingsync.PaymentPaid, EmailError: "smtp down", CreatedAt: testNow,
	}))
	h := newTestHandler(t, store)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantState  string
	}{
		{"confirmed", "?booking_id=bk-1", http.StatusOK, "confirmed"},
		{"email pending", "?booking_id=bk-2", http.StatusOK, "confirmed-email-pending"},
		{"missing", "?booking_id=nope", http.StatusNotFound, ""},
		{"no id", "", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.BookingStatus(rec, httptest.NewRequest(http.MethodGet, "/api/booking-status"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantState == "" {
				return
			}
			var resp BookingStatusResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantState, resp.State)
			assert.Equal(t, "paid", resp.PaymentStatus)
		})
	}
}

func TestHandler_SubscriptionStatus(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.PutSubscription(ctx, &bookingsync.Subscription{
		Email: "active@example.com", Tier: bookingsync.TierPremium, Status: bookingsync.SubscriptionActive,
		Provider: bookingsync.ProviderStripe, CurrentPeriodEnd: testNow.Add(72 * time.Hour), CreatedAt: testNow,
	}))
	require.NoError(t, store.PutSubscription(ctx, &bookingsync.Subscription{
		Email: "grace@example.com", Tier: bookingsync.TierPremium, Status: bookingsync.SubscriptionCancelled,
		CurrentPeriodEnd: testNow.Add(time.Hour), CreatedAt: testNow,
	}))
	require.NoError(t, store.PutSubscription(ctx, &bookingsync.Subscription{
		Email: "lapsed@example.com", Tier: bookingsync.TierStandard, Status: bookingsync.SubscriptionCancelled,
		CurrentPeriodEnd: testNow.Add(-time.Hour), CreatedAt: testNow,
	}))
	require.NoError(t, store.PutSubscription(ctx, &bookingsync.Subscription{
		Email: "held@example.com", Tier: bookingsync.TierPremium, Status: bookingsync.SubscriptionSuspended, CreatedAt: testNow,
	}))
	h := newTestHandler(t, store)

	tests := []struct {
		name       string
		email      string
		wantTier   string
		wantStatus string
		wantActive bool
	}{
		{"active", "Active@Example.com", "premium", "active", true},
		{"cancelled within period", "grace@example.com", "premium", "cancelled", true},
		{"cancelled after period", "lapsed@example.com", "standard", "cancelled", false},
		{"suspended", "held@example.com", "premium", "suspended", false},
		{"unknown dj", "new@example.com", "standard", "none", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.SubscriptionStatus(rec, httptest.NewRequest(http.MethodGet, "/api/subscription-status?email="+tt.email, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp SubscriptionStatusResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantTier, resp.Tier)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantActive, resp.Active)
		})
	}
}

func TestHandler_SubscriptionStatus_FromHeader(t *testing.T) {
	h, err := NewHandler(Config{Store: memory.New(), GetEmail: FromHeader("X-DJ-Email")})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/subscription-status", nil)
	req.Header.Set("X-DJ-Email", "dj@example.com")
	rec := httptest.NewRecorder()
	h.SubscriptionStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"dj@example.com"`)
}

type failingStore struct{ *memory.Storage }

func (failingStore) GetBooking(context.Context, string) (*bookingsync.Booking, error) {
	return nil, bookingsync.ErrStorageUnavailable
}

func TestHandler_OnError(t *testing.T) {
	var got error
	h, err := NewHandler(Config{
		Store: failingStore{memory.New()},
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.BookingStatus(rec, httptest.NewRequest(http.MethodGet, "/?booking_id=bk-1", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, errors.Is(got, bookingsync.ErrStorageUnavailable))
}
