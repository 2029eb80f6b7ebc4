package stripe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/bookingsync/pkg/billing"
	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// SessionResolver retrieves Checkout Sessions from the Stripe API so a client
// returning from checkout can be matched to its booking.
type SessionResolver struct {
	get     func(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	metrics billing.Metrics
}

// NewSessionResolver creates a resolver using the given secret key
func NewSessionResolver(apiKey string, metrics billing.Metrics) (*SessionResolver, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	client := stripe.NewClient(apiKey)
	return &SessionResolver{
		get: func(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
			return client.V1CheckoutSessions.Retrieve(ctx, id, nil)
		},
		metrics: metrics,
	}, nil
}

// ResolveSession fetches the session and flattens what the confirmation flow needs
func (r *SessionResolver) ResolveSession(ctx context.Context, id string) (*bookingsync.CheckoutSession, error) {
	if id == "" {
		return nil, bookingsync.ErrInvalidKey
	}

	start := time.Now()
	session, err := r.get(ctx, id)
	r.metrics.RecordProviderCall(providerName, sessionEndpoint, callStatus(err), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve checkout session %s: %v", billing.ErrProviderAPIError, id, err)
	}

	return flattenSession(session), nil
}

func flattenSession(session *stripe.CheckoutSession) *bookingsync.CheckoutSession {
	out := &bookingsync.CheckoutSession{
		ID:          session.ID,
		BookingID:   bookingIDOf(session),
		DJEmail:     session.Metadata[metaDJEmail],
		ClientName:  session.Metadata["clientName"],
		ClientEmail: session.Metadata[metaClientEmail],
		Amount:      session.AmountTotal,
		Currency:    string(session.Currency),
		Paid: session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
		Metadata: session.Metadata,
	}
	if session.PaymentIntent != nil {
		out.PaymentID = session.PaymentIntent.ID
	}
	if cd := session.CustomerDetails; cd != nil {
		if out.ClientEmail == "" {
			out.ClientEmail = cd.Email
		}
		if out.ClientName == "" {
			out.ClientName = cd.Name
		}
	}
	if out.ClientEmail == "" {
		out.ClientEmail = session.CustomerEmail
	}
	return out
}

// callStatus reports the HTTP status of a stripe-go call for metrics
func callStatus(err error) string {
	if err == nil {
		return "200"
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode != 0 {
		return strconv.Itoa(stripeErr.HTTPStatusCode)
	}
	return "error"
}
