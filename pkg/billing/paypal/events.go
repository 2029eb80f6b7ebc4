package paypal

import "github.com/mihaimyh/bookingsync/pkg/billing"

// eventKinds is the static table of PayPal event types this integration handles
var eventKinds = map[string]billing.EventKind{
	"BILLING.SUBSCRIPTION.CREATED":        billing.EventSubscriptionCreated,
	"BILLING.SUBSCRIPTION.ACTIVATED":      billing.EventSubscriptionCreated,
	"BILLING.SUBSCRIPTION.UPDATED":        billing.EventSubscriptionUpdated,
	"BILLING.SUBSCRIPTION.CANCELLED":      billing.EventSubscriptionCancelled,
	"BILLING.SUBSCRIPTION.EXPIRED":        billing.EventSubscriptionCancelled,
	"BILLING.SUBSCRIPTION.SUSPENDED":      billing.EventSubscriptionSuspended,
	"BILLING.SUBSCRIPTION.REACTIVATED":    billing.EventSubscriptionReactivated,
	"BILLING.SUBSCRIPTION.RE-ACTIVATED":   billing.EventSubscriptionReactivated,
	"BILLING.SUBSCRIPTION.PAYMENT.FAILED": billing.EventSubscriptionPaymentFailed,

	"PAYMENT.SALE.COMPLETED": billing.EventPaymentSucceeded,
	"PAYMENT.SALE.DENIED":    billing.EventPaymentFailed,

	"PAYMENT.CAPTURE.COMPLETED": billing.EventBookingPaymentSucceeded,
	"PAYMENT.CAPTURE.DENIED":    billing.EventBookingPaymentFailed,

	"CHECKOUT.ORDER.COMPLETED": billing.EventCheckoutCompleted,
}

// kindOf returns the kind for a PayPal event type, EventUnknown if not handled
func kindOf(eventType string) billing.EventKind {
	return eventKinds[eventType]
}

func (p *Provider) handlers() map[billing.EventKind]billing.HandlerFunc {
	return map[billing.EventKind]billing.HandlerFunc{
		billing.EventSubscriptionCreated:       p.handleSubscription,
		billing.EventSubscriptionUpdated:       p.handleSubscription,
		billing.EventSubscriptionCancelled:     p.handleSubscription,
		billing.EventSubscriptionSuspended:     p.handleSubscription,
		billing.EventSubscriptionReactivated:   p.handleSubscription,
		billing.EventSubscriptionPaymentFailed: p.handleSubscription,
		billing.EventPaymentSucceeded:          p.handleSale,
		billing.EventPaymentFailed:             p.handleSale,
		billing.EventBookingPaymentSucceeded:   p.handleCapture,
		billing.EventBookingPaymentFailed:      p.handleCapture,
		billing.EventCheckoutCompleted:         p.handleOrder,
	}
}
