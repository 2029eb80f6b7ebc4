package fiber

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpmw "github.com/mihaimyh/bookingsync/middleware/http"
	"github.com/mihaimyh/bookingsync/pkg/billing"
	"github.com/mihaimyh/bookingsync/pkg/billing/paypal"
	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
	"github.com/mihaimyh/bookingsync/storage/memory"
)

const (
	testSecret  = "test-secret"
	testDJEmail = "dj@example.com"
	testPayload = `{"id":"WH-1","event_type":"BILLING.SUBSCRIPTION.ACTIVATED","create_time":"2026-05-01T10:00:00Z",` +
		`"resource_type":"subscription","resource":{"id":"I-1","status":"ACTIVE","plan_id":"P-PREMIUM","custom_id":"dj@example.com"}}`
)

func newPayPalProvider(t *testing.T) (*paypal.Provider, *memory.Storage) {
	t.Helper()
	store := memory.New()
	upserter, err := bookingsync.NewUpserter(store, bookingsync.UpserterConfig{})
	require.NoError(t, err)

	provider, err := paypal.NewProvider(paypal.Config{
		Config: billing.Config{
			Upserter:    upserter,
			TierMapping: map[string]string{"P-PREMIUM": "premium"},
		},
		WebhookSecret: testSecret,
	})
	require.NoError(t, err)
	return provider, store
}

func signedWebhook(path string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(testPayload))
	req.Header.Set(paypal.HMACSignatureHeader, hex.EncodeToString(paypal.SignHMAC([]byte(testSecret), []byte(testPayload))))
	return req
}

func TestRegister_Webhook(t *testing.T) {
	provider, store := newPayPalProvider(t)

	app := fiber.New()
	Register(app, httpmw.Config{Providers: []billing.Provider{provider}})

	resp, err := app.Test(signedWebhook("/webhooks/paypal"), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"received":true`)

	// the adaptor must hand the exact signed bytes to the verifier
	sub, err := store.GetSubscription(context.Background(), testDJEmail)
	require.NoError(t, err)
	assert.Equal(t, bookingsync.TierPremium, sub.Tier)
}

func TestRegister_TamperedWebhook(t *testing.T) {
	provider, store := newPayPalProvider(t)

	app := fiber.New()
	Register(app, httpmw.Config{Providers: []billing.Provider{provider}})

	req := signedWebhook("/webhooks/paypal")
	tampered := strings.Replace(testPayload, "ACTIVE", "SUSPENDED", 1)
	forged := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(tampered))
	forged.Header.Set(paypal.HMACSignatureHeader, req.Header.Get(paypal.HMACSignatureHeader))

	resp, err := app.Test(forged, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = store.GetSubscription(context.Background(), testDJEmail)
	assert.ErrorIs(t, err, bookingsync.ErrSubscriptionNotFound)
}

func TestRegister_Group(t *testing.T) {
	app := fiber.New()
	Register(app.Group("/svc"), httpmw.Config{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/svc/healthz", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
