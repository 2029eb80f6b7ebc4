package stripe

import "github.com/mihaimyh/bookingsync/pkg/billing"

// eventKinds is the static table of Stripe event types this integration handles
var eventKinds = map[string]billing.EventKind{
	"checkout.session.completed":               billing.EventCheckoutCompleted,
	"checkout.session.async_payment_succeeded": billing.EventCheckoutCompleted,
	"checkout.session.async_payment_failed":    billing.EventBookingPaymentFailed,

	"customer.subscription.created": billing.EventSubscriptionCreated,
	"customer.subscription.updated": billing.EventSubscriptionUpdated,
	"customer.subscription.deleted": billing.EventSubscriptionCancelled,
	"customer.subscription.paused":  billing.EventSubscriptionSuspended,
	"customer.subscription.resumed": billing.EventSubscriptionReactivated,

	"invoice.payment_succeeded": billing.EventPaymentSucceeded,
	"invoice.paid":              billing.EventPaymentSucceeded,
	"invoice.payment_failed":    billing.EventPaymentFailed,

	"payment_intent.succeeded":      billing.EventBookingPaymentSucceeded,
	"payment_intent.payment_failed": billing.EventBookingPaymentFailed,
}

// kindOf returns the kind for a Stripe event type, EventUnknown if not handled
func kindOf(eventType string) billing.EventKind {
	return eventKinds[eventType]
}

func (p *Provider) handlers() map[billing.EventKind]billing.HandlerFunc {
	return map[billing.EventKind]billing.HandlerFunc{
		billing.EventCheckoutCompleted:         p.handleCheckoutCompleted,
		billing.EventSubscriptionCreated:       p.handleSubscriptionChange,
		billing.EventSubscriptionUpdated:       p.handleSubscriptionChange,
		billing.EventSubscriptionCancelled:     p.handleSubscriptionChange,
		billing.EventSubscriptionSuspended:     p.handleSubscriptionChange,
		billing.EventSubscriptionReactivated:   p.handleSubscriptionChange,
		billing.EventPaymentSucceeded:          p.handleInvoice,
		billing.EventPaymentFailed:             p.handleInvoice,
		billing.EventSubscriptionPaymentFailed: p.handleInvoice,
		billing.EventBookingPaymentSucceeded:   p.handleBookingPayment,
		billing.EventBookingPaymentFailed:      p.handleBookingPayment,
	}
}
