package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpmw "github.com/mihaimyh/bookingsync/middleware/http"
	"github.com/mihaimyh/bookingsync/pkg/api"
	"github.com/mihaimyh/bookingsync/pkg/billing"
	billingprom "github.com/mihaimyh/bookingsync/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/bookingsync/pkg/billing/paypal"
	"github.com/mihaimyh/bookingsync/pkg/billing/stripe"
	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
	zlog "github.com/mihaimyh/bookingsync/pkg/bookingsync/logger/zerolog"
	coreprom "github.com/mihaimyh/bookingsync/pkg/bookingsync/metrics/prometheus"
	"github.com/mihaimyh/bookingsync/pkg/confirm"
	"github.com/mihaimyh/bookingsync/pkg/notify"
	"github.com/mihaimyh/bookingsync/storage/firestore"
	"github.com/mihaimyh/bookingsync/storage/memory"
	"github.com/mihaimyh/bookingsync/storage/postgres"
	"github.com/mihaimyh/bookingsync/storage/redis"
)

const metricsNamespace = "bookingsync"

// app owns every long-lived client the process opens
type app struct {
	config Config
	logger zerolog.Logger

	store     bookingsync.Store
	upserter  *bookingsync.Upserter
	confirm   *confirm.Service
	status    *api.Handler
	providers []billing.Provider

	registry *prometheus.Registry
	checks   []httpmw.HealthCheck
	closers  []func()
}

func newApp(ctx context.Context, cfg Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	coreMetrics := coreprom.NewMetrics(a.registry, metricsNamespace)
	billingMetrics := billingprom.NewMetrics(a.registry, metricsNamespace)
	coreLogger := zlog.NewLogger(logger)

	store, ledger, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.RedisAddr != "" {
		if ledger, err = a.openRedisLedger(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.CircuitBreakerThreshold > 0 {
		cb := bookingsync.NewStoreBreaker(bookingsync.BreakerConfig{
			Threshold:    cfg.CircuitBreakerThreshold,
			ResetTimeout: cfg.CircuitBreakerReset,
			OnStateChange: func(state bookingsync.CircuitState) {
				logger.Warn().Str("state", string(state)).Msg("store circuit breaker changed state")
				coreMetrics.RecordCircuitBreakerStateChange(string(state))
			},
		})
		store = bookingsync.NewCircuitBreakerStore(store, cb, coreMetrics)
	}
	a.store = store

	a.upserter, err = bookingsync.NewUpserter(store, bookingsync.UpserterConfig{
		Logger:  coreLogger,
		Metrics: coreMetrics,
	})
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg, coreLogger, coreMetrics)
	if err != nil {
		return nil, err
	}

	var sessions confirm.SessionResolver
	if cfg.StripeSecretKey != "" {
		resolver, err := stripe.NewSessionResolver(cfg.StripeSecretKey, billingMetrics)
		if err != nil {
			return nil, err
		}
		sessions = resolver
	}

	a.confirm, err = confirm.NewService(confirm.Config{
		Upserter:          a.upserter,
		Notifier:          notifier,
		Sessions:          sessions,
		MarkSentOnFailure: cfg.MailMarkSentOnFailure,
		Logger:            coreLogger,
		Metrics:           coreMetrics,
	})
	if err != nil {
		return nil, err
	}

	a.status, err = api.NewHandler(api.Config{Store: a.store})
	if err != nil {
		return nil, err
	}

	base := billing.Config{
		Upserter:           a.upserter,
		Ledger:             ledger,
		RateLimitPerMinute: cfg.WebhookRateLimit,
		Logger:             coreLogger,
		Metrics:            billingMetrics,
		WebhookCallback:    a.confirm.OnWebhookEvent,
	}

	stripeConfig := base
	stripeConfig.TierMapping = cfg.stripeTiers()
	stripeProvider, err := stripe.NewProvider(stripe.Config{
		Config:              stripeConfig,
		StripeAPIKey:        cfg.StripeSecretKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe provider: %w", err)
	}
	if cfg.StripeWebhookSecret == "" {
		logger.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, stripe webhooks will be rejected")
	}

	paypalConfig := base
	paypalConfig.TierMapping = cfg.paypalTiers()
	paypalProvider, err := paypal.NewProvider(paypal.Config{
		Config:        paypalConfig,
		ClientID:      cfg.PayPalClientID,
		ClientSecret:  cfg.PayPalClientSecret,
		WebhookID:     cfg.PayPalWebhookID,
		APIBaseURL:    cfg.PayPalAPIBase,
		WebhookSecret: cfg.PayPalWebhookSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("paypal provider: %w", err)
	}

	a.providers = []billing.Provider{stripeProvider, paypalProvider}
	return a, nil
}

// openStore returns the configured document store and, when it has one, its ledger
func (a *app) openStore(ctx context.Context) (bookingsync.Store, bookingsync.EventLedger, error) {
	switch a.config.Store {
	case "", "memory":
		a.logger.Warn().Msg("using in-memory store, records are lost on restart")
		s := memory.New()
		return s, s, nil

	case "firestore":
		if a.config.FirestoreProjectID == "" {
			return nil, nil, errors.New("FIRESTORE_PROJECT_ID is required for the firestore store")
		}
		client, err := gcfirestore.NewClient(ctx, a.config.FirestoreProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })

		s, err := firestore.New(client, firestore.Config{})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case "postgres":
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = a.config.PostgresDSN
		s, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, s.Close)
		a.checks = append(a.checks, s.Ping)
		return s, s, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE %q (want memory, firestore or postgres)", a.config.Store)
	}
}

func (a *app) openRedisLedger(ctx context.Context) (bookingsync.EventLedger, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     a.config.RedisAddr,
		Password: a.config.RedisPassword,
		DB:       a.config.RedisDB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })

	ledger, err := redis.New(client, redis.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := ledger.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", a.config.RedisAddr, err)
	}
	a.checks = append(a.checks, ledger.Ping)
	return ledger, nil
}

func newNotifier(cfg Config, logger bookingsync.Logger, metrics bookingsync.Metrics) (notify.Notifier, error) {
	switch strings.ToLower(cfg.MailDriver) {
	case "log":
		logger.Warn("MAIL_DRIVER=log: confirmation emails are written to the log and never delivered")
		return notify.NewLogNotifier(logger, metrics), nil
	case "", "smtp":
	default:
		return nil, fmt.Errorf("unknown MAIL_DRIVER %q", cfg.MailDriver)
	}

	smtp, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		Timeout:  cfg.MailTimeout,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp notifier: %w", err)
	}
	if !smtp.Configured() {
		logger.Warn("SMTP not configured; confirmations are recorded with emailError and left unsent")
	}
	return smtp, nil
}

// Handler returns the full HTTP surface
func (a *app) Handler() http.Handler {
	return httpmw.NewRouter(httpmw.Config{
		Providers: a.providers,
		Confirm:   a.confirm.Handler(),
		Status:    a.status,
		Metrics:   promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		Health:    a.health,
		Logger:    &a.logger,
	})
}

func (a *app) health(ctx context.Context) error {
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases clients in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
