// Package memory provides an in-memory implementation of the bookingsync.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// Storage implements bookingsync.Store, bookingsync.AtomicStore and
// bookingsync.EventLedger using in-memory maps
type Storage struct {
	mu            sync.RWMutex
	bookings      map[string]*bookingsync.Booking
	subscriptions map[string]*bookingsync.Subscription
	events        map[string]bookingsync.ProcessedEvent
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		bookings:      make(map[string]*bookingsync.Booking),
		subscriptions: make(map[string]*bookingsync.Subscription),
		events:        make(map[string]bookingsync.ProcessedEvent),
	}
}

// GetBooking implements bookingsync.Store
func (s *Storage) GetBooking(_ context.Context, id string) (*bookingsync.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, bookingsync.ErrBookingNotFound
	}

	// Return a copy to prevent external mutations
	bCopy := *b
	return &bCopy, nil
}

// PutBooking implements bookingsync.Store
func (s *Storage) PutBooking(_ context.Context, b *bookingsync.Booking) error {
	if b == nil || b.ID == "" {
		return bookingsync.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bCopy := *b
	s.bookings[b.ID] = &bCopy
	return nil
}

// GetSubscription implements bookingsync.Store
func (s *Storage) GetSubscription(_ context.Context, email string) (*bookingsync.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[bookingsync.NormalizeEmail(email)]
	if !ok {
		return nil, bookingsync.ErrSubscriptionNotFound
	}

	subCopy := *sub
	return &subCopy, nil
}

// PutSubscription implements bookingsync.Store
func (s *Storage) PutSubscription(_ context.Context, sub *bookingsync.Subscription) error {
	if sub == nil {
		return bookingsync.ErrInvalidKey
	}
	key := bookingsync.NormalizeEmail(sub.Email)
	if key == "" {
		return bookingsync.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subCopy := *sub
	subCopy.Email = key
	s.subscriptions[key] = &subCopy
	return nil
}

// FindSubscriptionByProviderID implements bookingsync.Store
func (s *Storage) FindSubscriptionByProviderID(_ context.Context, provider bookingsync.Provider,
	subscriptionID string) (*bookingsync.Subscription, error) {
	if subscriptionID == "" {
		return nil, bookingsync.ErrSubscriptionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.Provider == provider && sub.SubscriptionID == subscriptionID {
			subCopy := *sub
			return &subCopy, nil
		}
	}
	return nil, bookingsync.ErrSubscriptionNotFound
}

// UpdateBooking implements bookingsync.AtomicStore.
// fn runs under the write lock, so it must not call back into the store.
func (s *Storage) UpdateBooking(_ context.Context, id string, fn bookingsync.BookingMutator) error {
	if id == "" {
		return bookingsync.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *bookingsync.Booking
	if b, ok := s.bookings[id]; ok {
		bCopy := *b
		current = &bCopy
	}

	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	nextCopy := *next
	nextCopy.ID = id
	s.bookings[id] = &nextCopy
	return nil
}

// UpdateSubscription implements bookingsync.AtomicStore
func (s *Storage) UpdateSubscription(_ context.Context, email string, fn bookingsync.SubscriptionMutator) error {
	key := bookingsync.NormalizeEmail(email)
	if key == "" {
		return bookingsync.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *bookingsync.Subscription
	if sub, ok := s.subscriptions[key]; ok {
		subCopy := *sub
		current = &subCopy
	}

	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}

	nextCopy := *next
	nextCopy.Email = key
	s.subscriptions[key] = &nextCopy
	return nil
}

// HasProcessed implements bookingsync.EventLedger
func (s *Storage) HasProcessed(_ context.Context, provider bookingsync.Provider, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.events[bookingsync.LedgerKey(provider, eventID)]
	return ok, nil
}

// RecordEvent implements bookingsync.EventLedger
func (s *Storage) RecordEvent(_ context.Context, event bookingsync.ProcessedEvent) error {
	if event.EventID == "" {
		return bookingsync.ErrInvalidKey
	}
	key := bookingsync.LedgerKey(event.Provider, event.EventID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[key]; ok {
		return bookingsync.ErrEventAlreadyProcessed
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}
	s.events[key] = event
	return nil
}

// Clear removes all data
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bookings = make(map[string]*bookingsync.Booking)
	s.subscriptions = make(map[string]*bookingsync.Subscription)
	s.events = make(map[string]bookingsync.ProcessedEvent)
}
