package paypal

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/bookingsync/pkg/billing"
	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
	"github.com/mihaimyh/bookingsync/storage/memory"
)

const (
	testSecret      = "paypal-shared-secret"
	testDJEmail     = "dj@example.com"
	testSubID       = "I-BW452GLLEP1G"
	testPlanPremium = "P-5ML4271244454362WXNWU5NQ"
)

type testEnv struct {
	store    *memory.Storage
	provider *Provider
	events   []billing.WebhookEvent
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{store: memory.New()}

	upserter, err := bookingsync.NewUpserter(env.store, bookingsync.UpserterConfig{})
	require.NoError(t, err)

	cfg.Upserter = upserter
	cfg.TierMapping = map[string]string{testPlanPremium: "premium"}
	cfg.WebhookCallback = func(_ context.Context, ev billing.WebhookEvent) error {
		env.events = append(env.events, ev)
		return nil
	}
	env.provider, err = NewProvider(cfg)
	require.NoError(t, err)
	return env
}

func newHMACEnv(t *testing.T) *testEnv {
	return newTestEnv(t, Config{WebhookSecret: testSecret})
}

func event(t *testing.T, id, eventType string, at time.Time, resource interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"event_type":  eventType,
		"create_time": at.Format(time.RFC3339),
		"resource":    resource,
	})
	require.NoError(t, err)
	return payload
}

func signed(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewReader(body))
	req.Header.Set(HMACSignatureHeader, hex.EncodeToString(SignHMAC([]byte(testSecret), body)))
	return req
}

func (e *testEnv) deliver(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.provider.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func subscriptionResourceFor(status string) map[string]interface{} {
	return map[string]interface{}{
		"id":      testSubID,
		"plan_id": testPlanPremium,
		"status":  status,
		"subscriber": map[string]interface{}{
			"email_address": "payer@example.com",
			"payer_id":      "PAYER123",
		},
		"custom_id": testDJEmail,
	}
}

func TestWebhook_SubscriptionActivated(t *testing.T) {
	env := newHMACEnv(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	rec := env.deliver(signed(event(t, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", at, subscriptionResourceFor("ACTIVE"))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sub, err := env.store.GetSubscription(context.Background(), testDJEmail)
	require.NoError(t, err)
	assert.Equal(t, bookingsync.SubscriptionActive, sub.Status)
	assert.Equal(t, bookingsync.TierPremium, sub.Tier)
	assert.Equal(t, bookingsync.ProviderPayPal, sub.Provider)
	assert.Equal(t, testPlanPremium, sub.PlanID)
	assert.Equal(t, "PAYER123", sub.CustomerID)
}

func TestWebhook_SubscriptionCancelledKeepsOtherFields(t *testing.T) {
	env := newHMACEnv(t)
	activatedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cancelledAt := activatedAt.Add(10 * 24 * time.Hour)

	rec := env.deliver(signed(event(t, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", activatedAt, subscriptionResourceFor("ACTIVE"))))
	require.Equal(t, http.StatusOK, rec.Code)
	before, err := env.store.GetSubscription(context.Background(), testDJEmail)
	require.NoError(t, err)

	cancel := subscriptionResourceFor("CANCELLED")
	cancel["plan_id"] = "P-SOMETHING-UNMAPPED"
	delete(cancel, "custom_id")
	rec = env.deliver(signed(event(t, "WH-2", "BILLING.SUBSCRIPTION.CANCELLED", cancelledAt, cancel)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	after, err := env.store.GetSubscription(context.Background(), testDJEmail)
	require.NoError(t, err)
	assert.Equal(t, bookingsync.SubscriptionCancelled, after.Status)
	assert.True(t, after.CancelledAt.Equal(cancelledAt))

	// everything else is as the activation left it
	assert.Equal(t, before.Tier, after.Tier)
	assert.Equal(t, before.PlanID, after.PlanID)
	assert.Equal(t, before.Provider, after.Provider)
	assert.Equal(t, before.CustomerID, after.CustomerID)
	assert.Equal(t, before.SubscriptionID, after.SubscriptionID)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	env := newHMACEnv(t)
	body := event(t, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", time.Now(), subscriptionResourceFor("ACTIVE"))
	req := signed(body)

	tampered := bytes.Replace(body, []byte("ACTIVE"), []byte("CANCELLED"), 1)
	forged := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", bytes.NewReader(tampered))
	forged.Header.Set(HMACSignatureHeader, req.Header.Get(HMACSignatureHeader))

	rec := env.deliver(forged)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := env.store.GetSubscription(context.Background(), testDJEmail)
	assert.ErrorIs(t, err, bookingsync.ErrSubscriptionNotFound)

	// the original pair is still accepted
	rec = env.deliver(signed(body))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_NoVerifierConfigured(t *testing.T) {
	env := newTestEnv(t, Config{})
	body := event(t, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", time.Now(), subscriptionResourceFor("ACTIVE"))

	rec := env.deliver(signed(body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	env := newHMACEnv(t)
	rec := env.deliver(httptest.NewRequest(http.MethodGet, "/webhooks/paypal", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhook_UnknownEventIgnored(t *testing.T) {
	env := newHMACEnv(t)
	body := event(t, "WH-1", "CUSTOMER.DISPUTE.CREATED", time.Now(), map[string]interface{}{"dispute_id": "PP-D-1"})

	rec := env.deliver(signed(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ignored"`)
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	env := newTestEnv(t, Config{WebhookSecret: testSecret})
	env.provider.dispatcher = mustDispatcher(t, env.provider, env.store)
	body := event(t, "WH-dup", "BILLING.SUBSCRIPTION.ACTIVATED", time.Now(), subscriptionResourceFor("ACTIVE"))

	first := env.deliver(signed(body))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), `"processed"`)

	second := env.deliver(signed(body))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), `"duplicate"`)
}

func mustDispatcher(t *testing.T, p *Provider, ledger bookingsync.EventLedger) *billing.Dispatcher {
	t.Helper()
	d, err := billing.NewDispatcher(p.handlers(), billing.Config{Ledger: ledger})
	require.NoError(t, err)
	return d
}

func TestWebhook_PaymentFailedMarksPastDue(t *testing.T) {
	env := newHMACEnv(t)
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.Equal(t, http.StatusOK,
		env.deliver(signed(event(t, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", at, subscriptionResourceFor("ACTIVE")))).Code)

	failed := subscriptionResourceFor("ACTIVE")
	delete(failed, "custom_id")
	rec := env.deliver(signed(event(t, "WH-2", "BILLING.SUBSCRIPTION.PAYMENT.FAILED", at.Add(time.Hour), failed)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sub, err := env.store.GetSubscription(context.Background(), testDJEmail)
	require.NoError(t, err)
	assert.Equal(t, bookingsync.SubscriptionPastDue, sub.Status)
	assert.True(t, sub.LastPaymentFailedAt.Equal(at.Add(time.Hour)))
}

func TestWebhook_SaleCompletedForBooking(t *testing.T) {
	env := newHMACEnv(t)
	sale := map[string]interface{}{
		"id":     "SALE-1",
		"state":  "completed",
		"custom": "bk_42",
		"amount": map[string]string{"total": "150.00", "currency": "USD"},
	}

	rec := env.deliver(signed(event(t, "WH-1", "PAYMENT.SALE.COMPLETED", time.Now(), sale)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	b, err := env.store.GetBooking(context.Background(), "bk_42")
	require.NoError(t, err)
	assert.Equal(t, bookingsync.PaymentPaid, b.PaymentStatus)
	assert.Equal(t, int64(15000), b.Amount)
	assert.Equal(t, "usd", b.Currency)
	assert.Equal(t, "paypal", b.PaymentMethod)
	require.Len(t, env.events, 1)
	assert.True(t, env.events[0].BookingPaid())
}

func TestWebhook_SaleCompletedForSubscription(t *testing.T) {
	env := newHMACEnv(t)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.Equal(t, http.StatusOK,
		env.deliver(signed(event(t, "WH-1", "BILLING.SUBSCRIPTION.ACTIVATED", at, subscriptionResourceFor("ACTIVE")))).Code)

	sale := map[string]interface{}{
		"id":                   "SALE-2",
		"billing_agreement_id": testSubID,
		"amount":               map[string]string{"total": "9.99", "currency": "USD"},
		"create_time":          at.AddDate(0, 1, 0).Format(time.RFC3339),
	}
	rec := env.deliver(signed(event(t, "WH-2", "PAYMENT.SALE.COMPLETED", at.AddDate(0, 1, 0), sale)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sub, err := env.store.GetSubscription(context.Background(), testDJEmail)
	require.NoError(t, err)
	assert.True(t, sub.LastPaymentAt.Equal(at.AddDate(0, 1, 0)))
	assert.Equal(t, bookingsync.SubscriptionActive, sub.Status)
}

func TestWebhook_UnattributableSaleIsRetried(t *testing.T) {
	env := newHMACEnv(t)
	sale := map[string]interface{}{"id": "SALE-3", "billing_agreement_id": "I-UNKNOWN"}

	rec := env.deliver(signed(event(t, "WH-1", "PAYMENT.SALE.COMPLETED", time.Now(), sale)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_CaptureAndOrder(t *testing.T) {
	env := newHMACEnv(t)
	order := map[string]interface{}{
		"id":     "ORDER-1",
		"status": "COMPLETED",
		"payer": map[string]interface{}{
			"email_address": "client@example.com",
			"name":          map[string]string{"given_name": "Sam", "surname": "Client"},
		},
		"purchase_units": []map[string]interface{}{{
			"reference_id": "default",
			"custom_id":    "bk_7",
			"amount":       map[string]string{"value": "200.5", "currency_code": "EUR"},
			"payments": map[string]interface{}{
				"captures": []map[string]string{{"id": "CAP-1", "status": "COMPLETED"}},
			},
		}},
	}
	rec := env.deliver(signed(event(t, "WH-1", "CHECKOUT.ORDER.COMPLETED", time.Now(), order)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	denied := map[string]interface{}{
		"id":        "CAP-1",
		"status":    "DECLINED",
		"custom_id": "bk_7",
		"amount":    map[string]string{"value": "200.50", "currency_code": "EUR"},
	}
	rec = env.deliver(signed(event(t, "WH-2", "PAYMENT.CAPTURE.DENIED", time.Now(), denied)))
	require.Equal(t, http.StatusOK, rec.Code)

	b, err := env.store.GetBooking(context.Background(), "bk_7")
	require.NoError(t, err)
	assert.Equal(t, bookingsync.PaymentPaid, b.PaymentStatus, "a late denial never regresses a paid booking")
	assert.Equal(t, int64(20050), b.Amount)
	assert.Equal(t, "eur", b.Currency)
	assert.Equal(t, "CAP-1", b.PaymentID)
	assert.Equal(t, "ORDER-1", b.SessionID)
	assert.Equal(t, "Sam Client", b.ClientName)
	assert.Equal(t, "client@example.com", b.ClientEmail)
}

func TestMoneyMinorUnits(t *testing.T) {
	tests := []struct {
		in   money
		want int64
	}{
		{money{Value: "150.00"}, 15000},
		{money{Value: "150"}, 15000},
		{money{Value: "0.5"}, 50},
		{money{Total: "9.99"}, 999},
		{money{Value: "1.999"}, 199},
		{money{Value: "abc"}, 0},
		{money{}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.minorUnits(), "%+v", tt.in)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, billing.EventSubscriptionReactivated, kindOf("BILLING.SUBSCRIPTION.RE-ACTIVATED"))
	assert.Equal(t, billing.EventSubscriptionCancelled, kindOf("BILLING.SUBSCRIPTION.EXPIRED"))
	assert.Equal(t, billing.EventUnknown, kindOf("PAYMENT.PAYOUTS-ITEM.SUCCEEDED"))
}
