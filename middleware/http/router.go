// Package http assembles the service's HTTP surface: provider webhooks, the
// payment confirmation endpoint, health and metrics. Routes are exposed both as a
// ready chi router and as a plain list so other frameworks can mount them.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/mihaimyh/bookingsync/pkg/api"
	"github.com/mihaimyh/bookingsync/pkg/billing"
)

const (
	// ConfirmPath is where the browser posts after a hosted checkout returns
	ConfirmPath = "/api/confirm-payment"
	// BookingStatusPath and SubscriptionStatusPath are read-only lookups
	BookingStatusPath      = "/api/booking-status"
	SubscriptionStatusPath = "/api/subscription-status"
	// WebhookPathPrefix is joined with the provider name, e.g. /webhooks/stripe
	WebhookPathPrefix = "/webhooks/"
	HealthPath        = "/healthz"
	MetricsPath       = "/metrics"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	// Providers are mounted at WebhookPathPrefix + Name()
	Providers []billing.Provider

	// Confirm serves ConfirmPath. Optional.
	Confirm http.Handler

	// Status serves BookingStatusPath and SubscriptionStatusPath. Optional.
	Status *api.Handler

	// Metrics serves MetricsPath
	// Default: promhttp.Handler()
	Metrics http.Handler

	// Health is run by HealthPath. A nil check always reports healthy.
	Health HealthCheck

	// HealthTimeout bounds Health
	// Default: 2s
	HealthTimeout time.Duration

	// Logger receives one access log line per request
	// Default: zerolog.Nop()
	Logger *zerolog.Logger
}

// Route is a single mounted endpoint
type Route struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Routes returns the endpoints described by config without any framework wiring.
// Webhook and confirmation handlers enforce their own methods, so they are
// registered for any method.
func Routes(config Config) []Route {
	config = withDefaults(config)

	routes := make([]Route, 0, len(config.Providers)+5)
	for _, p := range config.Providers {
		if p == nil {
			continue
		}
		routes = append(routes, Route{Path: WebhookPathPrefix + p.Name(), Handler: p.WebhookHandler()})
	}
	if config.Confirm != nil {
		routes = append(routes, Route{Path: ConfirmPath, Handler: config.Confirm})
	}
	if config.Status != nil {
		routes = append(routes,
			Route{Method: http.MethodGet, Path: BookingStatusPath, Handler: http.HandlerFunc(config.Status.BookingStatus)},
			Route{Method: http.MethodGet, Path: SubscriptionStatusPath, Handler: http.HandlerFunc(config.Status.SubscriptionStatus)},
		)
	}
	routes = append(routes,
		Route{Method: http.MethodGet, Path: HealthPath, Handler: healthHandler(config.Health, config.HealthTimeout)},
		Route{Method: http.MethodGet, Path: MetricsPath, Handler: config.Metrics},
	)
	return routes
}

// NewRouter builds a chi router serving Routes(config) behind request logging
// and panic recovery.
func NewRouter(config Config) chi.Router {
	config = withDefaults(config)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(*config.Logger))

	for _, route := range Routes(config) {
		if route.Method == "" {
			r.Handle(route.Path, route.Handler)
			continue
		}
		r.Method(route.Method, route.Path, route.Handler)
	}
	return r
}

// RequestLogger attaches logger to each request context and writes an access line
// with request id, method, path, status and duration.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		level := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.ErrorLevel
		}
		hlog.FromRequest(r).WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})

	return func(next http.Handler) http.Handler {
		h := access(next)
		h = hlog.RemoteAddrHandler("ip")(h)
		h = hlog.RequestIDHandler("request_id", "X-Request-Id")(h)
		return hlog.NewHandler(logger)(h)
	}
}

func withDefaults(config Config) Config {
	if config.Metrics == nil {
		config.Metrics = promhttp.Handler()
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 2 * time.Second
	}
	if config.Logger == nil {
		nop := zerolog.Nop()
		config.Logger = &nop
	}
	return config
}

func healthHandler(check HealthCheck, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			if err := check(ctx); err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}
