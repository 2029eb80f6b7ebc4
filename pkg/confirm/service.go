// Package confirm implements the post-checkout confirmation flow: find or
// rebuild the booking, send the confirmation email once, record the outcome.
package confirm

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/bookingsync/pkg/billing"
	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
	"github.com/mihaimyh/bookingsync/pkg/notify"
)

// SessionResolver looks up a provider checkout session.
// *stripe.SessionResolver implements it.
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*bookingsync.CheckoutSession, error)
}

// Config configures a Service
type Config struct {
	Upserter *bookingsync.Upserter

	// Notifier defaults to an unconfigured SMTPNotifier, so every send
	// reports notify.ErrNotConfigured
	Notifier notify.Notifier

	// Sessions is optional; without it a session id is used as the booking id
	Sessions SessionResolver

	// MarkSentOnFailure records emailSent=true even when the send failed,
	// so the confirmation is never attempted again
	MarkSentOnFailure bool

	Logger  bookingsync.Logger
	Metrics bookingsync.Metrics
}

// Service confirms bookings and sends their confirmation email at most once
// per booking id.
type Service struct {
	upserter          *bookingsync.Upserter
	notifier          notify.Notifier
	sessions          SessionResolver
	markSentOnFailure bool
	logger            bookingsync.Logger
	metrics           bookingsync.Metrics

	// in-flight confirmations keyed by booking id
	group singleflight.Group
}

// NewService creates a confirmation service
func NewService(config Config) (*Service, error) {
	if config.Upserter == nil {
		return nil, bookingsync.ErrStorageUnavailable
	}
	if config.Logger == nil {
		config.Logger = &bookingsync.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &bookingsync.NoopMetrics{}
	}
	if config.Notifier == nil {
		smtp, err := notify.NewSMTPNotifier(notify.SMTPConfig{Logger: config.Logger, Metrics: config.Metrics})
		if err != nil {
			return nil, err
		}
		config.Notifier = smtp
	}

	return &Service{
		upserter:          config.Upserter,
		notifier:          config.Notifier,
		sessions:          config.Sessions,
		markSentOnFailure: config.MarkSentOnFailure,
		logger:            config.Logger,
		metrics:           config.Metrics,
	}, nil
}

// Confirm runs the confirmation for a client request. The only error is
// ErrMissingIdentifier; lookup, storage and email failures are absorbed into
// the Response.
func (s *Service) Confirm(ctx context.Context, req Request) (*Response, error) {
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.BookingID == "" && req.SessionID == "" {
		return nil, ErrMissingIdentifier
	}

	session := s.resolveSession(ctx, req)

	bookingID := req.BookingID
	if bookingID == "" && session != nil {
		bookingID = session.BookingID
	}
	if bookingID == "" {
		bookingID = req.SessionID
	}

	run := func(ctx context.Context) *Response {
		b := s.loadOrSynthesize(ctx, bookingID, req, session)
		return s.deliver(ctx, b)
	}
	// a nil result means this call joined a NotifyBooking whose lookup
	// failed; retry once as leader, then answer without the group
	for attempt := 0; attempt < 2; attempt++ {
		if resp := s.collapse(ctx, bookingID, run); resp != nil {
			return resp, nil
		}
	}
	return run(context.WithoutCancel(ctx)), nil
}

// NotifyBooking sends the confirmation for a stored booking if it is paid and
// not yet confirmed. Webhooks call it so the email goes out even when the
// client never returns from checkout.
func (s *Service) NotifyBooking(ctx context.Context, bookingID string) (*Response, error) {
	if bookingID == "" {
		return nil, bookingsync.ErrInvalidKey
	}

	var loadErr error
	resp := s.collapse(ctx, bookingID, func(ctx context.Context) *Response {
		b, err := s.upserter.Store().GetBooking(ctx, bookingID)
		if err != nil {
			loadErr = err
			return nil
		}
		return s.deliver(ctx, *b)
	})
	if loadErr != nil {
		return nil, loadErr
	}
	if resp == nil {
		// shared with a concurrent caller whose lookup failed
		return nil, bookingsync.ErrBookingNotFound
	}
	return resp, nil
}

// OnWebhookEvent is a billing.Config.WebhookCallback that confirms bookings
// as soon as a provider reports them paid
func (s *Service) OnWebhookEvent(ctx context.Context, event billing.WebhookEvent) error {
	if !event.BookingPaid() {
		return nil
	}
	_, err := s.NotifyBooking(ctx, event.BookingID)
	return err
}

func (s *Service) collapse(ctx context.Context, bookingID string, fn func(context.Context) *Response) *Response {
	// the shared call must not die with whichever caller started it
	shared := context.WithoutCancel(ctx)
	v, _, _ := s.group.Do(bookingID, func() (interface{}, error) {
		return fn(shared), nil
	})
	resp, _ := v.(*Response)
	if resp == nil {
		return nil
	}
	out := *resp
	return &out
}

func (s *Service) resolveSession(ctx context.Context, req Request) *bookingsync.CheckoutSession {
	if s.sessions == nil || req.SessionID == "" || strings.EqualFold(req.PaymentMethod, string(bookingsync.ProviderPayPal)) {
		return nil
	}
	session, err := s.sessions.ResolveSession(ctx, req.SessionID)
	if err != nil {
		s.logger.Warn("checkout session lookup failed",
			bookingsync.Field{Key: "session_id", Value: req.SessionID}, bookingsync.Err(err))
		return nil
	}
	return session
}

// loadOrSynthesize returns the stored booking, completing it from the request
// and session where the store has gaps, or a booking rebuilt from them on a miss.
func (s *Service) loadOrSynthesize(ctx context.Context, id string, req Request,
	session *bookingsync.CheckoutSession) bookingsync.Booking {
	stored, err := s.upserter.Store().GetBooking(ctx, id)
	if err != nil && !bookingsync.IsNotFound(err) {
		s.logger.Warn("booking lookup failed; rebuilding from request",
			bookingsync.Field{Key: "booking_id", Value: id}, bookingsync.Err(err))
	}

	patch := requestPatch(req, session)
	if stored != nil {
		patch = gapsOnly(*stored, patch)
	} else {
		s.logger.Info("booking not found; synthesizing from request",
			bookingsync.Field{Key: "booking_id", Value: id})
	}
	if stored != nil && patch == (bookingsync.BookingPatch{}) {
		return *stored
	}

	update, err := s.upserter.UpsertBooking(ctx, id, patch)
	if err != nil {
		s.logger.Error("failed to store confirmed booking",
			bookingsync.Field{Key: "booking_id", Value: id}, bookingsync.Err(err))
		return localBooking(id, stored, patch)
	}
	return update.Current
}

// deliver sends the email for a paid booking that has not been confirmed yet
func (s *Service) deliver(ctx context.Context, b bookingsync.Booking) *Response {
	resp := &Response{Success: true, BookingID: b.ID, PaymentID: b.PaymentID}

	if b.EmailSent {
		resp.EmailSent = true
		resp.State = b.ConfirmationState()
		s.metrics.RecordConfirmation(resp.State)
		return resp
	}
	if b.PaymentStatus != bookingsync.PaymentPaid {
		resp.State = b.ConfirmationState()
		s.metrics.RecordConfirmation(resp.State)
		return resp
	}

	result := s.notifier.Send(ctx, b)

	patch := bookingsync.BookingPatch{}
	if result.Err == nil {
		patch.EmailSent = true
		patch.EmailMessageID = result.MessageID
		resp.EmailSent = true
	} else {
		patch.EmailError = result.Err.Error()
		patch.EmailSent = s.markSentOnFailure
		resp.EmailError = result.Err.Error()
	}

	current := b
	update, err := s.upserter.UpsertBooking(ctx, b.ID, patch)
	if err != nil {
		s.logger.Error("failed to record confirmation email outcome",
			bookingsync.Field{Key: "booking_id", Value: b.ID}, bookingsync.Err(err))
		current.EmailSent = current.EmailSent || patch.EmailSent
		if !current.EmailSent {
			current.EmailError = patch.EmailError
		}
	} else {
		current = update.Current
	}

	resp.State = current.ConfirmationState()
	s.metrics.RecordConfirmation(resp.State)
	return resp
}

// requestPatch builds a booking patch from the client request and the resolved session.
// A client returning from checkout is treated as paid unless the session says otherwise.
func requestPatch(req Request, session *bookingsync.CheckoutSession) bookingsync.BookingPatch {
	p := bookingsync.BookingPatch{
		PaymentStatus: bookingsync.PaymentPaid,
		PaymentMethod: strings.ToLower(req.PaymentMethod),
		SessionID:     req.SessionID,
	}
	if d := req.Booking; d != nil {
		p.ClientName = d.ClientName
		p.ClientEmail = d.ClientEmail
		p.ClientPhone = d.ClientPhone
		p.EventType = d.EventType
		p.EventDate = d.EventDate
		p.Venue = d.Venue
		p.StartTime = d.StartTime
		p.EndTime = d.EndTime
		p.Amount = d.Amount
		p.Currency = d.Currency
		p.DJEmail = d.DJEmail
	}
	if session != nil {
		if !session.Paid {
			p.PaymentStatus = bookingsync.PaymentPending
		}
		if p.PaymentMethod == "" {
			p.PaymentMethod = string(bookingsync.ProviderStripe)
		}
		p.PaymentID = session.PaymentID
		p.SessionID = session.ID
		p.ClientName = firstNonEmpty(p.ClientName, session.ClientName)
		p.ClientEmail = firstNonEmpty(p.ClientEmail, session.ClientEmail)
		p.DJEmail = firstNonEmpty(p.DJEmail, session.DJEmail)
		if session.Amount != 0 {
			p.Amount = session.Amount
			p.Currency = session.Currency
		}
	}
	return p
}

// gapsOnly keeps the patch fields the stored booking does not have yet.
// Provider-reported values always win over what the browser sent.
func gapsOnly(b bookingsync.Booking, p bookingsync.BookingPatch) bookingsync.BookingPatch {
	var out bookingsync.BookingPatch
	keep := func(dst *string, stored, v string) {
		if stored == "" {
			*dst = v
		}
	}
	keep(&out.ClientName, b.ClientName, p.ClientName)
	keep(&out.ClientEmail, b.ClientEmail, p.ClientEmail)
	keep(&out.ClientPhone, b.ClientPhone, p.ClientPhone)
	keep(&out.EventType, b.EventType, p.EventType)
	keep(&out.EventDate, b.EventDate, p.EventDate)
	keep(&out.Venue, b.Venue, p.Venue)
	keep(&out.StartTime, b.StartTime, p.StartTime)
	keep(&out.EndTime, b.EndTime, p.EndTime)
	keep(&out.Currency, b.Currency, p.Currency)
	keep(&out.PaymentMethod, b.PaymentMethod, p.PaymentMethod)
	keep(&out.PaymentID, b.PaymentID, p.PaymentID)
	keep(&out.SessionID, b.SessionID, p.SessionID)
	keep(&out.DJEmail, b.DJEmail, p.DJEmail)
	if b.Amount == 0 {
		out.Amount = p.Amount
	}
	if b.PaymentStatus != bookingsync.PaymentPaid && p.PaymentStatus == bookingsync.PaymentPaid && p.PaymentID != "" {
		// only a provider-confirmed payment upgrades a stored booking
		out.PaymentStatus = bookingsync.PaymentPaid
	}
	return out
}

func localBooking(id string, stored *bookingsync.Booking, p bookingsync.BookingPatch) bookingsync.Booking {
	var b bookingsync.Booking
	if stored != nil {
		b = *stored
	}
	b.ID = id
	b.ClientName = firstNonEmpty(b.ClientName, p.ClientName)
	b.ClientEmail = firstNonEmpty(b.ClientEmail, p.ClientEmail)
	b.EventType = firstNonEmpty(b.EventType, p.EventType)
	b.EventDate = firstNonEmpty(b.EventDate, p.EventDate)
	b.Venue = firstNonEmpty(b.Venue, p.Venue)
	b.StartTime = firstNonEmpty(b.StartTime, p.StartTime)
	b.EndTime = firstNonEmpty(b.EndTime, p.EndTime)
	b.Currency = firstNonEmpty(b.Currency, p.Currency)
	b.PaymentID = firstNonEmpty(b.PaymentID, p.PaymentID)
	b.DJEmail = firstNonEmpty(b.DJEmail, p.DJEmail)
	if b.Amount == 0 {
		b.Amount = p.Amount
	}
	if p.PaymentStatus == bookingsync.PaymentPaid {
		b.PaymentStatus = bookingsync.PaymentPaid
	}
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
