package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/bookingsync/pkg/billing"
	"github.com/mihaimyh/bookingsync/pkg/billing/internal"
	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

const (
	providerName             = "stripe"
	customerEndpoint         = "/v1/customers/{id}"
	sessionEndpoint          = "/v1/checkout/sessions/{id}"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Upserter, TierMapping, Ledger, etc.)

	// StripeAPIKey enables API lookups (customer email fallback, checkout sessions).
	// Webhooks are processed without it.
	StripeAPIKey string

	// StripeWebhookSecret is the endpoint signing secret (whsec_...).
	// When empty the webhook answers with a configuration error.
	StripeWebhookSecret string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	upserter      *bookingsync.Upserter
	tiers         *bookingsync.TierMapper
	webhookSecret string
	dispatcher    *billing.Dispatcher
	rateLimiter   *internal.RateLimiter
	logger        bookingsync.Logger
	metrics       billing.Metrics

	// customerEmail fetches a customer's email; nil without an API key
	customerEmail func(ctx context.Context, customerID string) (string, error)
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Upserter == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	logger := config.Logger
	if logger == nil {
		logger = &bookingsync.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	config.Logger = logger
	config.Metrics = metrics

	p := &Provider{
		upserter:      config.Upserter,
		tiers:         bookingsync.NewTierMapper(config.TierMapping),
		webhookSecret: strings.TrimSpace(config.StripeWebhookSecret),
		logger:        logger,
		metrics:       metrics,
	}

	if apiKey := strings.TrimSpace(config.StripeAPIKey); apiKey != "" {
		client := stripe.NewClient(apiKey)
		p.customerEmail = func(ctx context.Context, customerID string) (string, error) {
			start := time.Now()
			cust, err := client.V1Customers.Retrieve(ctx, customerID, nil)
			p.metrics.RecordProviderCall(providerName, customerEndpoint, callStatus(err), time.Since(start))
			if err != nil {
				return "", err
			}
			return cust.Email, nil
		}
	}

	dispatcher, err := billing.NewDispatcher(p.handlers(), config.Config)
	if err != nil {
		return nil, err
	}
	p.dispatcher = dispatcher

	limit := config.RateLimitPerMinute
	if limit == 0 {
		limit = defaultRateLimitRequests
	}
	if limit > 0 {
		p.rateLimiter = internal.NewRateLimiter(limit, defaultRateLimitWindow)
	}

	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	if p.rateLimiter == nil {
		return handler
	}
	return p.rateLimiter.Middleware(handler)
}

// TierFor maps a Stripe price id, lookup key or plan name to a tier
func (p *Provider) TierFor(refs ...string) bookingsync.Tier {
	return p.tiers.Resolve(refs...)
}
