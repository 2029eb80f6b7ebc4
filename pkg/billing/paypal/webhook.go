package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/bookingsync/pkg/billing"
	"github.com/mihaimyh/bookingsync/pkg/billing/internal"
	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

const paymentMethodPayPal = "paypal"

// handleWebhook processes incoming PayPal webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.verifier == nil {
		p.logger.Error("paypal webhook verification is not configured")
		p.metrics.RecordWebhookRejected(providerName, "not_configured")
		internal.WriteError(w, http.StatusInternalServerError, "paypal webhook verification is not configured")
		return
	}

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

	if err := p.verifier.Verify(r.Context(), r.Header, body); err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidWebhookSignature), errors.Is(err, billing.ErrInvalidWebhookPayload):
			p.logger.Warn("paypal webhook verification failed", bookingsync.Err(err))
			p.metrics.RecordWebhookRejected(providerName, "auth_failed")
			internal.WriteError(w, http.StatusBadRequest, billing.ErrInvalidWebhookSignature.Error())
		default:
			// verification could not run; PayPal retries on non-2xx
			p.logger.Error("paypal webhook verification unavailable", bookingsync.Err(err))
			p.metrics.RecordWebhookRejected(providerName, "verify_unavailable")
			internal.WriteError(w, http.StatusInternalServerError, "signature verification unavailable")
		}
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.EventType == "" {
		p.metrics.RecordWebhookRejected(providerName, "invalid_payload")
		internal.WriteError(w, http.StatusBadRequest, billing.ErrInvalidWebhookPayload.Error())
		return
	}

	ev := &billing.Event{
		Provider:   bookingsync.ProviderPayPal,
		ID:         payload.ID,
		Type:       payload.EventType,
		Kind:       kindOf(strings.ToUpper(payload.EventType)),
		OccurredAt: parseTime(payload.CreateTime),
		Data:       payload.Resource,
	}

	outcome, err := p.dispatcher.Dispatch(r.Context(), ev)
	if err != nil {
		p.logger.Error("paypal webhook processing failed",
			bookingsync.Field{Key: "event_id", Value: ev.ID},
			bookingsync.Field{Key: "event_type", Value: ev.Type},
			bookingsync.Err(err),
		)
		internal.WriteError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"status":   outcome,
	})
}

// handleSubscription processes BILLING.SUBSCRIPTION.* events
func (p *Provider) handleSubscription(ctx context.Context, ev *billing.Event) (*billing.WebhookEvent, error) {
	var res subscriptionResource
	if err := json.Unmarshal(ev.Data, &res); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}
	ev.Metadata = map[string]string{"custom_id": res.CustomID, "plan_id": res.PlanID}

	email, err := p.resolveEmail(ctx, res.ID, res.CustomID, res.Subscriber.EmailAddress)
	if err != nil {
		return nil, err
	}

	patch := bookingsync.SubscriptionPatch{
		Provider:       bookingsync.ProviderPayPal,
		CustomerID:     res.Subscriber.PayerID,
		SubscriptionID: res.ID,
		EventAt:        ev.OccurredAt,
	}

	switch ev.Kind {
	case billing.EventSubscriptionCancelled:
		// a cancellation only moves the lifecycle; plan and tier stay as they were
		patch.Status = bookingsync.SubscriptionCancelled
		patch.CancelledAt = firstTime(parseTime(res.StatusUpdateTime), ev.OccurredAt)
	case billing.EventSubscriptionSuspended:
		patch.Status = bookingsync.SubscriptionSuspended
	case billing.EventSubscriptionPaymentFailed:
		patch.Status = bookingsync.SubscriptionPastDue
		patch.LastPaymentFailedAt = firstTime(parseTime(res.BillingInfo.LastFailedPayment.Time), ev.OccurredAt)
	default:
		if ev.Kind == billing.EventSubscriptionReactivated {
			patch.Status = bookingsync.SubscriptionActive
		} else {
			patch.Status = mapSubscriptionStatus(res.Status)
		}
		if res.PlanID != "" {
			patch.PlanID = res.PlanID
			patch.Tier = p.tiers.Resolve(res.PlanID)
		}
		patch.CurrentPeriodStart = parseTime(res.StartTime)
		patch.CurrentPeriodEnd = parseTime(res.BillingInfo.NextBillingTime)
		patch.LastPaymentAt = parseTime(res.BillingInfo.LastPayment.Time)
	}

	update, err := p.upserter.UpsertSubscription(ctx, email, patch)
	if err != nil {
		return nil, err
	}
	return billing.SubscriptionEvent(ev, update), nil
}

// handleSale processes PAYMENT.SALE.* events: subscription renewals carry a
// billing agreement id, one-off booking sales carry the booking id in custom.
func (p *Provider) handleSale(ctx context.Context, ev *billing.Event) (*billing.WebhookEvent, error) {
	var sale saleResource
	if err := json.Unmarshal(ev.Data, &sale); err != nil {
		return nil, fmt.Errorf("%w: sale: %v", billing.ErrInvalidWebhookPayload, err)
	}
	ev.Metadata = map[string]string{"custom": sale.Custom, "billing_agreement_id": sale.BillingAgreementID}
	succeeded := ev.Kind == billing.EventPaymentSucceeded

	if sale.BillingAgreementID == "" {
		if sale.Custom == "" {
			p.logger.Info("paypal sale without subscription or booking reference; ignoring",
				bookingsync.Field{Key: "sale_id", Value: sale.ID})
			return nil, nil
		}
		patch := bookingsync.BookingPatch{
			PaymentStatus: bookingsync.PaymentFailed,
			PaymentMethod: paymentMethodPayPal,
			PaymentID:     sale.ID,
			Currency:      sale.Amount.currency(),
			EventAt:       ev.OccurredAt,
		}
		if succeeded {
			patch.PaymentStatus = bookingsync.PaymentPaid
			patch.Amount = sale.Amount.minorUnits()
		}
		return p.applyBooking(ctx, ev, sale.Custom, patch)
	}

	email, err := p.resolveEmail(ctx, sale.BillingAgreementID, sale.Custom, "")
	if err != nil {
		return nil, err
	}
	patch := bookingsync.SubscriptionPatch{
		Provider:       bookingsync.ProviderPayPal,
		SubscriptionID: sale.BillingAgreementID,
		EventAt:        ev.OccurredAt,
	}
	if succeeded {
		patch.Status = bookingsync.SubscriptionActive
		patch.LastPaymentAt = firstTime(parseTime(sale.CreateTime), ev.OccurredAt)
	} else {
		patch.Status = bookingsync.SubscriptionPastDue
		patch.LastPaymentFailedAt = firstTime(parseTime(sale.CreateTime), ev.OccurredAt)
	}

	update, err := p.upserter.UpsertSubscription(ctx, email, patch)
	if err != nil {
		return nil, err
	}
	return billing.SubscriptionEvent(ev, update), nil
}

// handleCapture processes PAYMENT.CAPTURE.* events for booking payments
func (p *Provider) handleCapture(ctx context.Context, ev *billing.Event) (*billing.WebhookEvent, error) {
	var capture captureResource
	if err := json.Unmarshal(ev.Data, &capture); err != nil {
		return nil, fmt.Errorf("%w: capture: %v", billing.ErrInvalidWebhookPayload, err)
	}
	ev.Metadata = map[string]string{"custom_id": capture.CustomID, "order_id": capture.SupplementaryData.RelatedIDs.OrderID}

	if capture.CustomID == "" {
		p.logger.Info("paypal capture without booking reference; ignoring",
			bookingsync.Field{Key: "capture_id", Value: capture.ID})
		return nil, nil
	}

	patch := bookingsync.BookingPatch{
		PaymentStatus: bookingsync.PaymentFailed,
		PaymentMethod: paymentMethodPayPal,
		PaymentID:     capture.ID,
		SessionID:     capture.SupplementaryData.RelatedIDs.OrderID,
		Currency:      capture.Amount.currency(),
		EventAt:       ev.OccurredAt,
	}
	if ev.Kind == billing.EventBookingPaymentSucceeded {
		patch.PaymentStatus = bookingsync.PaymentPaid
		patch.Amount = capture.Amount.minorUnits()
	}
	return p.applyBooking(ctx, ev, capture.CustomID, patch)
}

// handleOrder processes CHECKOUT.ORDER.COMPLETED for booking checkouts
func (p *Provider) handleOrder(ctx context.Context, ev *billing.Event) (*billing.WebhookEvent, error) {
	var order orderResource
	if err := json.Unmarshal(ev.Data, &order); err != nil {
		return nil, fmt.Errorf("%w: order: %v", billing.ErrInvalidWebhookPayload, err)
	}

	bookingID := order.bookingID()
	ev.Metadata = map[string]string{"custom_id": bookingID, "order_id": order.ID}
	if bookingID == "" {
		p.logger.Info("paypal order without booking reference; ignoring",
			bookingsync.Field{Key: "order_id", Value: order.ID})
		return nil, nil
	}

	patch := bookingsync.BookingPatch{
		PaymentStatus: bookingsync.PaymentPending,
		PaymentMethod: paymentMethodPayPal,
		SessionID:     order.ID,
		ClientEmail:   order.Payer.EmailAddress,
		ClientName:    order.payerName(),
		EventAt:       ev.OccurredAt,
	}
	if strings.EqualFold(order.Status, "COMPLETED") {
		patch.PaymentStatus = bookingsync.PaymentPaid
	}
	if len(order.PurchaseUnits) > 0 {
		pu := order.PurchaseUnits[0]
		patch.Amount = pu.Amount.minorUnits()
		patch.Currency = pu.Amount.currency()
		if len(pu.Payments.Captures) > 0 {
			patch.PaymentID = pu.Payments.Captures[0].ID
		}
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

// resolveEmail finds the DJ email for a PayPal subscription: an email placed in
// custom_id at checkout, then the stored record, then the PayPal subscriber.
func (p *Provider) resolveEmail(ctx context.Context, subscriptionID, customID, subscriberEmail string) (string, error) {
	if strings.Contains(customID, "@") {
		return customID, nil
	}

	if subscriptionID != "" {
		sub, err := p.upserter.Store().FindSubscriptionByProviderID(ctx, bookingsync.ProviderPayPal, subscriptionID)
		switch {
		case err == nil:
			return sub.Email, nil
		case !bookingsync.IsNotFound(err):
			return "", err
		}
	}

	if subscriberEmail != "" {
		return subscriberEmail, nil
	}
	return "", fmt.Errorf("%w: paypal subscription %s", billing.ErrCustomerNotFound, subscriptionID)
}

func mapSubscriptionStatus(status string) bookingsync.SubscriptionStatus {
	switch strings.ToUpper(status) {
	case "ACTIVE":
		return bookingsync.SubscriptionActive
	case "SUSPENDED":
		return bookingsync.SubscriptionSuspended
	case "CANCELLED", "EXPIRED":
		return bookingsync.SubscriptionCancelled
	default:
		// APPROVAL_PENDING, APPROVED: not billing yet
		return ""
	}
}

func firstTime(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
