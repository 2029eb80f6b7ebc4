package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, "smtp", cfg.MailDriver)
	assert.Equal(t, 5*time.Second, cfg.MailTimeout)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	assert.False(t, cfg.MailMarkSentOnFailure)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE", " Postgres ")
	t.Setenv("STRIPE_PRICE_PREMIUM", "price_a,price_b")
	t.Setenv("PAYPAL_PLAN_STANDARD", "P-1")
	t.Setenv("MAIL_TIMEOUT", "2s")
	t.Setenv("MAIL_MARK_SENT_ON_FAILURE", "true")

	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, []string{"price_a", "price_b"}, cfg.StripePricePremium)
	assert.Equal(t, 2*time.Second, cfg.MailTimeout)
	assert.True(t, cfg.MailMarkSentOnFailure)
	assert.Equal(t, map[string]string{"price_a": "premium", "price_b": "premium"}, cfg.stripeTiers())
	assert.Equal(t, map[string]string{"P-1": "standard"}, cfg.paypalTiers())
}

func TestLoadConfig_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MAIL_FROM=bookings@example.com\nSMTP_PORT=2525\n"), 0o600))
	t.Setenv("SMTP_PORT", "465")
	// godotenv writes into the process environment; keep other tests isolated
	t.Setenv("MAIL_FROM", "")
	require.NoError(t, os.Unsetenv("MAIL_FROM"))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "bookings@example.com", cfg.MailFrom)
	// the real environment wins over the file
	assert.Equal(t, 465, cfg.SMTPPort)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	_, err := loadConfig("")
	assert.Error(t, err)
}

func TestTierMapping_PremiumWinsDuplicates(t *testing.T) {
	m := tierMapping([]string{" price_1 ", ""}, []string{"price_1"})
	assert.Equal(t, map[string]string{"price_1": "premium"}, m)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(Config{LogLevel: "warn", LogFormat: "json"}, &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Contains(t, buf.String(), `"service":"bookingsync"`)

	_, err = newLogger(Config{LogLevel: "loud"}, &buf)
	assert.Error(t, err)
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(Config{LogLevel: "info", LogFormat: "console"}, &buf)
	require.NoError(t, err)

	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}
