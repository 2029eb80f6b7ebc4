package bookingsync

import (
	"context"
	"time"
)

// CircuitBreakerStore wraps a Store with circuit breaker protection.
// Which errors trip the breaker is the breaker's decision (see IsBackendFailure).
type CircuitBreakerStore struct {
	store   Store
	cb      CircuitBreaker
	metrics Metrics
}

// NewCircuitBreakerStore creates a new store wrapper with circuit breaker.
func NewCircuitBreakerStore(store Store, cb CircuitBreaker, metrics Metrics) *CircuitBreakerStore {
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &CircuitBreakerStore{
		store:   store,
		cb:      cb,
		metrics: metrics,
	}
}

func (s *CircuitBreakerStore) execute(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := s.cb.Execute(ctx, fn)
	if IsNotFound(err) {
		s.metrics.RecordStorageOperation(op, time.Since(start), nil)
	} else {
		s.metrics.RecordStorageOperation(op, time.Since(start), err)
	}
	return err
}

func (s *CircuitBreakerStore) GetBooking(ctx context.Context, id string) (*Booking, error) {
	var b *Booking
	err := s.execute(ctx, "get_booking", func() error {
		var e error
		b, e = s.store.GetBooking(ctx, id)
		return e
	})
	return b, err
}

func (s *CircuitBreakerStore) PutBooking(ctx context.Context, b *Booking) error {
	return s.execute(ctx, "put_booking", func() error {
		return s.store.PutBooking(ctx, b)
	})
}

func (s *CircuitBreakerStore) GetSubscription(ctx context.Context, email string) (*Subscription, error) {
	var sub *Subscription
	err := s.execute(ctx, "get_subscription", func() error {
		var e error
		sub, e = s.store.GetSubscription(ctx, email)
		return e
	})
	return sub, err
}

func (s *CircuitBreakerStore) PutSubscription(ctx context.Context, sub *Subscription) error {
	return s.execute(ctx, "put_subscription", func() error {
		return s.store.PutSubscription(ctx, sub)
	})
}

func (s *CircuitBreakerStore) FindSubscriptionByProviderID(ctx context.Context, provider Provider,
	subscriptionID string) (*Subscription, error) {
	var sub *Subscription
	err := s.execute(ctx, "find_subscription", func() error {
		var e error
		sub, e = s.store.FindSubscriptionByProviderID(ctx, provider, subscriptionID)
		return e
	})
	return sub, err
}

// UpdateBooking keeps the wrapped store's atomicity when it has any
func (s *CircuitBreakerStore) UpdateBooking(ctx context.Context, id string, fn BookingMutator) error {
	return s.execute(ctx, "update_booking", func() error {
		return UpdateBooking(ctx, s.store, id, fn)
	})
}

func (s *CircuitBreakerStore) UpdateSubscription(ctx context.Context, email string, fn SubscriptionMutator) error {
	return s.execute(ctx, "update_subscription", func() error {
		return UpdateSubscription(ctx, s.store, email, fn)
	})
}

// Unwrap returns the wrapped store
func (s *CircuitBreakerStore) Unwrap() Store {
	return s.store
}
