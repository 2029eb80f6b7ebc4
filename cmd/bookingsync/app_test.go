package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

const testWebhookSecret = "whsec_test"

func newTestApp(t *testing.T) *app {
	t.Helper()
	return newTestAppWith(t, nil)
}

func newTestAppWith(t *testing.T, mutate func(*Config)) *app {
	t.Helper()
	cfg := Config{
		Store:                   "memory",
		CircuitBreakerThreshold: 5,
		CircuitBreakerReset:     time.Second,
		StripeWebhookSecret:     testWebhookSecret,
		StripePricePremium:      []string{"price_premium"},
		PayPalWebhookSecret:     "paypal-secret",
		MailTimeout:             time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewApp_UnknownStore(t *testing.T) {
	_, err := newApp(context.Background(), Config{Store: "dynamo"}, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown STORE")
}

func TestNewApp_FirestoreRequiresProject(t *testing.T) {
	_, err := newApp(context.Background(), Config{Store: "firestore"}, zerolog.Nop())
	assert.ErrorContains(t, err, "FIRESTORE_PROJECT_ID")
}

func TestApp_StripeDJPlanCheckout(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_1",
		"object":      "event",
		"type":        "checkout.session.completed",
		"created":     time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC).Unix(),
		"api_version": "2025-01-27.acacia",
		"data": map[string]interface{}{"object": map[string]interface{}{
			"id":             "cs_1",
			"object":         "checkout.session",
			"mode":           "subscription",
			"customer":       "cus_1",
			"subscription":   "sub_1",
			"payment_status": "paid",
			"metadata": map[string]string{
				"subscriptionType": "dj_plan",
				"plan":             "premium",
				"djEmail":          "dj@example.com",
			},
		}},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/stripe", bytes.NewReader(signed.Payload))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sub, err := a.store.GetSubscription(context.Background(), "dj@example.com")
	require.NoError(t, err)
	assert.Equal(t, bookingsync.TierPremium, sub.Tier)
	assert.Equal(t, bookingsync.SubscriptionActive, sub.Status)
	assert.Equal(t, bookingsync.ProviderStripe, sub.Provider)
}

func TestApp_ConfirmUnknownBooking(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/confirm-payment", "application/json",
		strings.NewReader(`{"bookingId":"b-42","booking":{"clientName":"Ana","clientEmail":"ana@example.com"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	// no SMTP configured: the booking is kept for a later send
	assert.Equal(t, false, body["emailSent"])
	assert.Equal(t, "notifier not configured", body["emailError"])
	assert.Equal(t, "b-42", body["bookingId"])

	b, err := a.store.GetBooking(context.Background(), "b-42")
	require.NoError(t, err)
	assert.False(t, b.EmailSent)
	assert.Equal(t, "notifier not configured", b.EmailError)
	assert.Equal(t, "Ana", b.ClientName)

	status, err := http.Get(srv.URL + "/api/booking-status?booking_id=b-42")
	require.NoError(t, err)
	defer status.Body.Close()
	require.Equal(t, http.StatusOK, status.StatusCode)
	var st map[string]interface{}
	require.NoError(t, json.NewDecoder(status.Body).Decode(&st))
	assert.Equal(t, "confirmed-email-pending", st["state"])
}

func TestApp_LogMailDriver(t *testing.T) {
	a := newTestAppWith(t, func(c *Config) { c.MailDriver = "log" })
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/confirm-payment", "application/json",
		strings.NewReader(`{"bookingId":"b-43","booking":{"clientEmail":"ana@example.com"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["emailSent"])
	assert.Equal(t, "", body["emailError"])

	b, err := a.store.GetBooking(context.Background(), "b-43")
	require.NoError(t, err)
	assert.True(t, b.EmailSent)
}

func TestNewApp_UnknownMailDriver(t *testing.T) {
	_, err := newApp(context.Background(), Config{Store: "memory", MailDriver: "sendgrid"}, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown MAIL_DRIVER")
}

func TestApp_HealthAndMetrics(t *testing.T) {
	a := newTestApp(t)
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunConfirm(t *testing.T) {
	a := newTestAppWith(t, func(c *Config) { c.MailDriver = "log" })
	ctx := context.Background()
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)

	_, err := runConfirm(cmd, a, "missing")
	assert.ErrorContains(t, err, "not found")

	_, err = a.upserter.UpsertBooking(ctx, "b1", bookingsync.BookingPatch{
		ClientName:    "Ana",
		ClientEmail:   "ana@example.com",
		PaymentStatus: bookingsync.PaymentPaid,
	})
	require.NoError(t, err)

	resp, err := runConfirm(cmd, a, "b1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.EmailSent)

	b, err := a.store.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, b.EmailSent)
	assert.Equal(t, bookingsync.StateConfirmed, b.ConfirmationState())
}

func TestRootCmd_ConfirmRequiresBookingID(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"confirm", "--env-file", ""})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	assert.ErrorContains(t, err, "--booking-id is required")
}
