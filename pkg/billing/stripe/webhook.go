package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/bookingsync/pkg/billing"
	"github.com/mihaimyh/bookingsync/pkg/billing/internal"
	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// Metadata keys set on checkout sessions and payment intents by the booking frontend
const (
	metaSubscriptionType = "subscriptionType"
	metaPlan             = "plan"
	metaDJEmail          = "djEmail"
	metaBookingID        = "bookingId"
	metaClientEmail      = "clientEmail"

	subscriptionTypeDJPlan = "dj_plan"
	paymentMethodStripe    = "stripe"
)

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.webhookSecret == "" {
		p.logger.Error("stripe webhook secret is not configured")
		p.metrics.RecordWebhookRejected(providerName, "not_configured")
		internal.WriteError(w, http.StatusInternalServerError, "stripe webhook secret is not configured")
		return
	}

	// Read and validate body (with size limit protection)
	body, err := internal.ReadBodyStrict(w, r, internal.DefaultBodyLimit)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			internal.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			p.metrics.RecordWebhookRejected(providerName, "payload_too_large")
		} else {
			internal.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
			p.metrics.RecordWebhookRejected(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		internal.WriteError(w, http.StatusBadRequest, billing.ErrInvalidWebhookSignature.Error())
		p.metrics.RecordWebhookRejected(providerName, "auth_failed")
		return
	}

	// Signature is computed over the raw bytes; body must not be re-encoded before this
	event, err := webhook.ConstructEventWithOptions(body, sig, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		p.logger.Warn("stripe webhook signature verification failed", bookingsync.Err(err))
		internal.WriteError(w, http.StatusBadRequest, billing.ErrInvalidWebhookSignature.Error())
		p.metrics.RecordWebhookRejected(providerName, "auth_failed")
		return
	}

	outcome, err := p.dispatcher.Dispatch(r.Context(), toEvent(&event))
	if err != nil {
		p.logger.Error("stripe webhook processing failed",
			bookingsync.Field{Key: "event_id", Value: event.ID},
			bookingsync.Field{Key: "event_type", Value: string(event.Type)},
			bookingsync.Err(err),
		)
		// non-2xx so Stripe retries; handlers are idempotent
		internal.WriteError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"status":   outcome,
	})
}

func toEvent(event *stripe.Event) *billing.Event {
	ev := &billing.Event{
		Provider:   bookingsync.ProviderStripe,
		ID:         event.ID,
		Type:       string(event.Type),
		Kind:       kindOf(string(event.Type)),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data != nil {
		ev.Data = event.Data.Raw
	}
	return ev
}

// handleCheckoutCompleted processes checkout.session.completed for DJ plans and bookings
func (p *Provider) handleCheckoutCompleted(ctx context.Context, ev *billing.Event) (*billing.WebhookEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data, &session); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}
	ev.Metadata = session.Metadata

	if isDJPlanCheckout(&session) {
		return p.applyPlanCheckout(ctx, ev, &session)
	}

	bookingID := bookingIDOf(&session)
	if bookingID == "" {
		p.logger.Info("checkout session is neither a DJ plan nor a booking; ignoring",
			bookingsync.Field{Key: "session_id", Value: session.ID})
		return nil, nil
	}

	patch := sessionBookingPatch(&session, ev.OccurredAt)
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		patch.PaymentStatus = bookingsync.PaymentPaid
	}
	return p.applyBooking(ctx, ev, bookingID, patch)
}

func (p *Provider) applyPlanCheckout(ctx context.Context, ev *billing.Event,
	session *stripe.CheckoutSession) (*billing.WebhookEvent, error) {
	email := session.Metadata[metaDJEmail]
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	if email == "" {
		email = session.CustomerEmail
	}
	if email == "" {
		// nothing identifies the DJ; a retry would not change that
		p.logger.Warn("DJ plan checkout without an email; ignoring",
			bookingsync.Field{Key: "session_id", Value: session.ID})
		return nil, nil
	}

	patch := bookingsync.SubscriptionPatch{
		Tier:       p.tiers.Resolve(session.Metadata[metaPlan], session.Metadata["tier"], session.Metadata["priceId"]),
		Status:     bookingsync.SubscriptionActive,
		Provider:   bookingsync.ProviderStripe,
		CustomerID: customerID(session.Customer),
		EventAt:    ev.OccurredAt,
	}
	if session.Subscription != nil {
		patch.SubscriptionID = session.Subscription.ID
	}

	update, err := p.upserter.UpsertSubscription(ctx, email, patch)
	if err != nil {
		return nil, err
	}
	return billing.SubscriptionEvent(ev, update), nil
}

// handleSubscriptionChange processes customer.subscription.* lifecycle events
func (p *Provider) handleSubscriptionChange(ctx context.Context, ev *billing.Event) (*billing.WebhookEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(ev.Data, &sub); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}
	ev.Metadata = sub.Metadata

	custID := customerID(sub.Customer)
	email, err := p.resolveEmail(ctx, sub.Metadata, sub.ID, custID, "")
	if err != nil {
		return nil, err
	}

	patch := bookingsync.SubscriptionPatch{
		Provider:       bookingsync.ProviderStripe,
		CustomerID:     custID,
		SubscriptionID: sub.ID,
		EventAt:        ev.OccurredAt,
	}

	var refs []string
	if sub.Items != nil {
		for i, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if i == 0 {
				patch.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
				patch.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			}
			if item.Price != nil {
				if patch.PlanID == "" {
					patch.PlanID = item.Price.ID
				}
				refs = append(refs, item.Price.ID, item.Price.LookupKey)
			}
		}
	}
	if plan := sub.Metadata[metaPlan]; plan != "" {
		refs = append([]string{plan}, refs...)
	}
	// without any plan reference the event says nothing about the tier
	if len(refs) > 0 {
		patch.Tier = p.tiers.Resolve(refs...)
	}

	switch ev.Kind {
	case billing.EventSubscriptionCancelled:
		patch.Status = bookingsync.SubscriptionCancelled
	case billing.EventSubscriptionSuspended:
		patch.Status = bookingsync.SubscriptionSuspended
	case billing.EventSubscriptionReactivated:
		patch.Status = bookingsync.SubscriptionActive
	default:
		patch.Status = mapSubscriptionStatus(sub.Status)
	}
	if patch.Status == bookingsync.SubscriptionCancelled {
		patch.CancelledAt = firstTime(unixTime(sub.CanceledAt), unixTime(sub.EndedAt), ev.OccurredAt)
	}

	update, err := p.upserter.UpsertSubscription(ctx, email, patch)
	if err != nil {
		return nil, err
	}
	return billing.SubscriptionEvent(ev, update), nil
}

// handleInvoice processes invoice payment outcomes for subscriptions
func (p *Provider) handleInvoice(ctx context.Context, ev *billing.Event) (*billing.WebhookEvent, error) {
	var inv invoiceObject
	if err := json.Unmarshal(ev.Data, &inv); err != nil {
		return nil, fmt.Errorf("%w: invoice: %v", billing.ErrInvalidWebhookPayload, err)
	}

	subscriptionID := inv.subscriptionID()
	if subscriptionID == "" {
		// Not a subscription invoice - ignore
		return nil, nil
	}
	md := inv.metadata()
	ev.Metadata = md

	email, err := p.resolveEmail(ctx, md, subscriptionID, string(inv.Customer), inv.CustomerEmail)
	if err != nil {
		return nil, err
	}

	patch := bookingsync.SubscriptionPatch{
		Provider:       bookingsync.ProviderStripe,
		CustomerID:     string(inv.Customer),
		SubscriptionID: subscriptionID,
		EventAt:        ev.OccurredAt,
	}
	if ev.Kind == billing.EventPaymentSucceeded {
		patch.Status = bookingsync.SubscriptionActive
		patch.LastPaymentAt = firstTime(unixTime(inv.StatusTransitions.PaidAt), ev.OccurredAt)
		if len(inv.Lines.Data) > 0 {
			patch.CurrentPeriodStart = unixTime(inv.Lines.Data[0].Period.Start)
			patch.CurrentPeriodEnd = unixTime(inv.Lines.Data[0].Period.End)
		}
	} else {
		patch.Status = bookingsync.SubscriptionPastDue
		patch.LastPaymentFailedAt = ev.OccurredAt
	}

	update, err := p.upserter.UpsertSubscription(ctx, email, patch)
	if err != nil {
		return nil, err
	}
	return billing.SubscriptionEvent(ev, update), nil
}

// handleBookingPayment processes one-off booking payments (payment intents and async checkouts)
func (p *Provider) handleBookingPayment(ctx context.Context, ev *billing.Event) (*billing.WebhookEvent, error) {
	status := bookingsync.PaymentPaid
	if ev.Kind == billing.EventBookingPaymentFailed {
		status = bookingsync.PaymentFailed
	}

	if objectType(ev.Data) == "checkout.session" {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data, &session); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
		}
		ev.Metadata = session.Metadata
		bookingID := bookingIDOf(&session)
		if bookingID == "" {
			return nil, nil
		}
		patch := sessionBookingPatch(&session, ev.OccurredAt)
		patch.PaymentStatus = status
		return p.applyBooking(ctx, ev, bookingID, patch)
	}

	var pi paymentIntentObject
	if err := json.Unmarshal(ev.Data, &pi); err != nil {
		return nil, fmt.Errorf("%w: payment intent: %v", billing.ErrInvalidWebhookPayload, err)
	}
	ev.Metadata = pi.Metadata

	bookingID := pi.Metadata[metaBookingID]
	if bookingID == "" {
		// subscription invoices also produce payment intents
		p.logger.Debug("payment intent is not tied to a booking",
			bookingsync.Field{Key: "payment_intent", Value: pi.ID})
		return nil, nil
	}

	patch := bookingsync.BookingPatch{
		PaymentStatus: status,
		PaymentMethod: paymentMethodStripe,
		PaymentID:     pi.ID,
		Currency:      pi.Currency,
		ClientEmail:   firstString(pi.Metadata[metaClientEmail], pi.ReceiptEmail),
		DJEmail:       pi.Metadata[metaDJEmail],
		EventAt:       ev.OccurredAt,
	}
	if status == bookingsync.PaymentPaid {
		patch.Amount = pi.AmountReceived
		if patch.Amount == 0 {
			patch.Amount = pi.Amount
		}
	} else if pi.LastPaymentError != nil {
		p.logger.Info("booking payment failed",
			bookingsync.Field{Key: "booking_id", Value: bookingID},
			bookingsync.Field{Key: "reason", Value: pi.LastPaymentError.Message},
		)
	}
	return p.applyBooking(ctx, ev, bookingID, patch)
}

func (p *Provider) applyBooking(ctx context.Context, ev *billing.Event, bookingID string,
	patch bookingsync.BookingPatch) (*billing.WebhookEvent, error) {
	update, err := p.upserter.UpsertBooking(ctx, bookingID, patch)
	if err != nil {
		return nil, err
	}
	return billing.BookingEvent(ev, update), nil
}

// resolveEmail finds the DJ email for a subscription event: metadata first, then the
// stored record, then whatever the payload carries, then the Stripe customer.
// A miss is an error so the provider retries once the checkout event has landed.
func (p *Provider) resolveEmail(ctx context.Context, md map[string]string, subscriptionID,
	custID, payloadEmail string) (string, error) {
	if email := md[metaDJEmail]; email != "" {
		return email, nil
	}

	if subscriptionID != "" {
		sub, err := p.upserter.Store().FindSubscriptionByProviderID(ctx, bookingsync.ProviderStripe, subscriptionID)
		switch {
		case err == nil:
			return sub.Email, nil
		case !bookingsync.IsNotFound(err):
			return "", err
		}
	}

	if payloadEmail != "" {
		return payloadEmail, nil
	}

	if p.customerEmail != nil && custID != "" {
		email, err := p.customerEmail(ctx, custID)
		if err != nil {
			p.logger.Warn("stripe customer lookup failed",
				bookingsync.Field{Key: "customer_id", Value: custID}, bookingsync.Err(err))
		} else if email != "" {
			return email, nil
		}
	}

	return "", fmt.Errorf("%w: stripe subscription %s", billing.ErrCustomerNotFound, subscriptionID)
}

func isDJPlanCheckout(session *stripe.CheckoutSession) bool {
	if session.Metadata[metaSubscriptionType] == subscriptionTypeDJPlan {
		return true
	}
	return session.Mode == stripe.CheckoutSessionModeSubscription
}

func bookingIDOf(session *stripe.CheckoutSession) string {
	if id := session.Metadata[metaBookingID]; id != "" {
		return id
	}
	return session.ClientReferenceID
}

func sessionBookingPatch(session *stripe.CheckoutSession, at time.Time) bookingsync.BookingPatch {
	patch := bookingsync.BookingPatch{
		PaymentMethod: paymentMethodStripe,
		SessionID:     session.ID,
		Amount:        session.AmountTotal,
		Currency:      string(session.Currency),
		DJEmail:       session.Metadata[metaDJEmail],
		ClientEmail:   session.Metadata[metaClientEmail],
		EventAt:       at,
	}
	if session.PaymentIntent != nil {
		patch.PaymentID = session.PaymentIntent.ID
	}
	if patch.ClientEmail == "" && session.CustomerDetails != nil {
		patch.ClientEmail = session.CustomerDetails.Email
	}
	return patch
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) bookingsync.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return bookingsync.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return bookingsync.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return bookingsync.SubscriptionCancelled
	case stripe.SubscriptionStatusPaused:
		return bookingsync.SubscriptionSuspended
	default:
		// incomplete: the first payment has not settled, leave status alone
		return ""
	}
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func firstTime(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func firstString(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
