package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config is read from the environment. Provider and mail secrets are optional:
// a missing secret only disables the endpoint or feature that needs it.
type Config struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	Store              string `envconfig:"STORE" default:"memory"`
	FirestoreProjectID string `envconfig:"FIRESTORE_PROJECT_ID"`
	PostgresDSN        string `envconfig:"POSTGRES_DSN"`
	RedisAddr          string `envconfig:"REDIS_ADDR"`
	RedisPassword      string `envconfig:"REDIS_PASSWORD"`
	RedisDB            int    `envconfig:"REDIS_DB" default:"0"`

	CircuitBreakerThreshold int           `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`
	CircuitBreakerReset     time.Duration `envconfig:"CIRCUIT_BREAKER_RESET" default:"30s"`
	WebhookRateLimit        int           `envconfig:"WEBHOOK_RATE_LIMIT" default:"0"`

	StripeSecretKey     string   `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string   `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceStandard []string `envconfig:"STRIPE_PRICE_STANDARD"`
	StripePricePremium  []string `envconfig:"STRIPE_PRICE_PREMIUM"`

	PayPalClientID      string   `envconfig:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret  string   `envconfig:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookID     string   `envconfig:"PAYPAL_WEBHOOK_ID"`
	PayPalWebhookSecret string   `envconfig:"PAYPAL_WEBHOOK_SECRET"`
	PayPalAPIBase       string   `envconfig:"PAYPAL_API_BASE"`
	PayPalPlanStandard  []string `envconfig:"PAYPAL_PLAN_STANDARD"`
	PayPalPlanPremium   []string `envconfig:"PAYPAL_PLAN_PREMIUM"`

	// MailDriver is "smtp" or "log"; "log" only writes confirmations to the log
	// and reports them sent, for local development
	MailDriver            string        `envconfig:"MAIL_DRIVER" default:"smtp"`
	SMTPHost              string        `envconfig:"SMTP_HOST"`
	SMTPPort              int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser              string        `envconfig:"SMTP_USER"`
	SMTPPassword          string        `envconfig:"SMTP_PASSWORD"`
	MailFrom              string        `envconfig:"MAIL_FROM"`
	MailTimeout           time.Duration `envconfig:"MAIL_TIMEOUT" default:"5s"`
	MailMarkSentOnFailure bool          `envconfig:"MAIL_MARK_SENT_ON_FAILURE" default:"false"`
}

// loadConfig fills Config from the environment after loading envFile, if present.
// Variables already set in the environment win over the file.
func loadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	return c, nil
}

// stripeTiers maps configured Stripe price ids to tier names
func (c Config) stripeTiers() map[string]string {
	return tierMapping(c.StripePriceStandard, c.StripePricePremium)
}

// paypalTiers maps configured PayPal plan ids to tier names
func (c Config) paypalTiers() map[string]string {
	return tierMapping(c.PayPalPlanStandard, c.PayPalPlanPremium)
}

func tierMapping(standard, premium []string) map[string]string {
	m := make(map[string]string, len(standard)+len(premium))
	for _, id := range standard {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = "standard"
		}
	}
	for _, id := range premium {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = "premium"
		}
	}
	return m
}

// newLogger builds the process logger: JSON by default, human-readable with LOG_FORMAT=console
func newLogger(c Config, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if strings.EqualFold(c.LogFormat, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "bookingsync").Logger(), nil
}
