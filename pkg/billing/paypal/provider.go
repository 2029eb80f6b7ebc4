package paypal

import (
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/bookingsync/pkg/billing"
	"github.com/mihaimyh/bookingsync/pkg/billing/internal"
	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

const (
	providerName             = "paypal"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Config extends billing.Config with PayPal-specific options
type Config struct {
	billing.Config

	// ClientID, ClientSecret and WebhookID enable verification through the PayPal API
	ClientID     string
	ClientSecret string
	WebhookID    string

	// APIBaseURL defaults to the live endpoint; use SandboxAPIBaseURL for testing
	APIBaseURL string

	// WebhookSecret enables HMAC verification when the API credentials are absent
	WebhookSecret string

	// Verifier overrides the verifier built from the fields above
	Verifier Verifier
}

// Provider implements the billing.Provider interface for PayPal
type Provider struct {
	upserter    *bookingsync.Upserter
	tiers       *bookingsync.TierMapper
	verifier    Verifier
	dispatcher  *billing.Dispatcher
	rateLimiter *internal.RateLimiter
	logger      bookingsync.Logger
	metrics     billing.Metrics
}

// NewProvider creates a new PayPal billing provider.
// Without any verifier the webhook answers with a configuration error.
func NewProvider(config Config) (*Provider, error) {
	if config.Upserter == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	if config.Logger == nil {
		config.Logger = &bookingsync.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &billing.NoopMetrics{}
	}

	p := &Provider{
		upserter: config.Upserter,
		tiers:    bookingsync.NewTierMapper(config.TierMapping),
		verifier: config.Verifier,
		logger:   config.Logger,
		metrics:  config.Metrics,
	}

	if p.verifier == nil {
		switch {
		case config.ClientID != "" && config.ClientSecret != "" && config.WebhookID != "":
			v, err := NewAPIVerifier(APIVerifierConfig{
				ClientID:     strings.TrimSpace(config.ClientID),
				ClientSecret: strings.TrimSpace(config.ClientSecret),
				WebhookID:    strings.TrimSpace(config.WebhookID),
				BaseURL:      config.APIBaseURL,
				HTTPClient:   config.HTTPClient,
				Metrics:      config.Metrics,
			})
			if err != nil {
				return nil, err
			}
			p.verifier = v
		case strings.TrimSpace(config.WebhookSecret) != "":
			p.verifier = NewHMACVerifier(strings.TrimSpace(config.WebhookSecret))
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

// WebhookHandler returns the HTTP handler for PayPal webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	if p.rateLimiter == nil {
		return handler
	}
	return p.rateLimiter.Middleware(handler)
}
