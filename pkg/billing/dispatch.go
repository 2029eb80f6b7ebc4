package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// HandlerFunc applies one verified event. It returns a summary for the
// WebhookCallback, or nil when the event changed nothing worth reporting.
type HandlerFunc func(ctx context.Context, ev *Event) (*WebhookEvent, error)

// Outcome describes what the Dispatcher did with an event
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Dispatcher routes verified events to exactly one handler per kind
type Dispatcher struct {
	handlers map[EventKind]HandlerFunc
	ledger   bookingsync.EventLedger
	logger   bookingsync.Logger
	metrics  Metrics
	callback func(ctx context.Context, event WebhookEvent) error
}

// NewDispatcher creates a dispatcher. Every kind returned by AllEventKinds must have a handler.
// Ledger, Logger, Metrics and WebhookCallback are taken from config; the rest is ignored.
func NewDispatcher(handlers map[EventKind]HandlerFunc, config Config) (*Dispatcher, error) {
	table := make(map[EventKind]HandlerFunc, len(handlers))
	for _, kind := range AllEventKinds() {
		h, ok := handlers[kind]
		if !ok || h == nil {
			return nil, fmt.Errorf("%w: %s", ErrHandlerMissing, kind)
		}
		table[kind] = h
	}

	logger := config.Logger
	if logger == nil {
		logger = &bookingsync.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}

	return &Dispatcher{
		handlers: table,
		ledger:   config.Ledger,
		logger:   logger,
		metrics:  metrics,
		callback: config.WebhookCallback,
	}, nil
}

// Dispatch runs the handler for ev.Kind. Unknown kinds are acknowledged as ignored,
// events already in the ledger as duplicates. A handler error is returned as-is
// (wrapped) and the event is not recorded, so the provider's retry runs it again.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) (Outcome, error) {
	start := time.Now()
	provider := string(ev.Provider)
	kind := ev.Kind.String()

	handler, ok := d.handlers[ev.Kind]
	if !ok {
		d.logger.Info("ignoring unhandled webhook event type",
			bookingsync.Field{Key: "provider", Value: provider},
			bookingsync.Field{Key: "event_type", Value: ev.Type},
			bookingsync.Field{Key: "event_id", Value: ev.ID},
		)
		d.metrics.RecordWebhookEvent(provider, kind, string(OutcomeIgnored), time.Since(start))
		return OutcomeIgnored, nil
	}

	if d.ledger != nil && ev.ID != "" {
		seen, err := d.ledger.HasProcessed(ctx, ev.Provider, ev.ID)
		switch {
		case err != nil:
			// the ledger is an optimisation; handlers are idempotent
			d.logger.Warn("event ledger lookup failed",
				bookingsync.Field{Key: "event_id", Value: ev.ID}, bookingsync.Err(err))
		case seen:
			d.logger.Debug("duplicate webhook event",
				bookingsync.Field{Key: "provider", Value: provider},
				bookingsync.Field{Key: "event_id", Value: ev.ID},
			)
			d.metrics.RecordWebhookEvent(provider, kind, string(OutcomeDuplicate), time.Since(start))
			return OutcomeDuplicate, nil
		}
	}

	result, err := handler(ctx, ev)
	if err != nil {
		d.metrics.RecordWebhookEvent(provider, kind, "error", time.Since(start))
		return "", fmt.Errorf("handle %s event %s: %w", ev.Type, ev.ID, err)
	}

	if result != nil {
		d.report(ctx, *result)
	}

	if d.ledger != nil && ev.ID != "" {
		err := d.ledger.RecordEvent(ctx, bookingsync.ProcessedEvent{
			ID:          bookingsync.LedgerKey(ev.Provider, ev.ID),
			Provider:    ev.Provider,
			EventID:     ev.ID,
			EventType:   ev.Type,
			ProcessedAt: time.Now().UTC(),
		})
		if err != nil && !errors.Is(err, bookingsync.ErrEventAlreadyProcessed) {
			d.logger.Warn("failed to record processed event",
				bookingsync.Field{Key: "event_id", Value: ev.ID}, bookingsync.Err(err))
		}
	}

	d.logger.Info("webhook event processed",
		bookingsync.Field{Key: "provider", Value: provider},
		bookingsync.Field{Key: "event_type", Value: ev.Type},
		bookingsync.Field{Key: "event_id", Value: ev.ID},
	)
	d.metrics.RecordWebhookEvent(provider, kind, string(OutcomeProcessed), time.Since(start))
	return OutcomeProcessed, nil
}

func (d *Dispatcher) report(ctx context.Context, event WebhookEvent) {
	if event.Email != "" {
		d.metrics.RecordSubscriptionChange(string(event.Provider),
			string(event.PreviousTier), string(event.NewTier), string(event.Status))
	}
	if event.BookingID != "" {
		d.metrics.RecordBookingPayment(string(event.Provider), string(event.PaymentStatus))
	}
	if d.callback == nil {
		return
	}
	if err := d.callback(ctx, event); err != nil {
		d.logger.Error("webhook callback failed",
			bookingsync.Field{Key: "provider", Value: string(event.Provider)},
			bookingsync.Field{Key: "event_id", Value: event.EventID},
			bookingsync.Err(err),
		)
	}
}
