// Package firestore provides a Firestore implementation of the bookingsync.Store interface.
// Bookings and subscriptions live in the same collections the web app reads; writes
// merge into existing documents so fields this package does not model are preserved.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// Storage implements bookingsync.Store, bookingsync.AtomicStore and
// bookingsync.EventLedger using Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	bookingsCollection      string
	subscriptionsCollection string
	eventsCollection        string
}

// Config holds Firestore storage configuration
type Config struct {
	// BookingsCollection is the Firestore collection for bookings
	// Default: "bookings"
	BookingsCollection string

	// SubscriptionsCollection is the Firestore collection for DJ subscriptions
	// Default: "subscriptions"
	SubscriptionsCollection string

	// EventsCollection is the Firestore collection for processed webhook events
	// Default: "webhook_events"
	EventsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.BookingsCollection == "" {
		config.BookingsCollection = "bookings"
	}
	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "subscriptions"
	}
	if config.EventsCollection == "" {
		config.EventsCollection = "webhook_events"
	}

	return &Storage{
		client:                  client,
		bookingsCollection:      config.BookingsCollection,
		subscriptionsCollection: config.SubscriptionsCollection,
		eventsCollection:        config.EventsCollection,
	}, nil
}

// GetBooking implements bookingsync.Store
func (s *Storage) GetBooking(ctx context.Context, id string) (*bookingsync.Booking, error) {
	if id == "" {
		return nil, bookingsync.ErrInvalidKey
	}
	snap, err := s.bookingDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, bookingsync.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if !snap.Exists() {
		return nil, bookingsync.ErrBookingNotFound
	}
	return bookingFromData(id, snap.Data()), nil
}

// PutBooking implements bookingsync.Store
func (s *Storage) PutBooking(ctx context.Context, b *bookingsync.Booking) error {
	if b == nil || b.ID == "" {
		return bookingsync.ErrInvalidKey
	}
	if _, err := s.bookingDoc(b.ID).Set(ctx, bookingData(b), firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set booking: %w", err)
	}
	return nil
}

// UpdateBooking implements bookingsync.AtomicStore with a Firestore transaction
func (s *Storage) UpdateBooking(ctx context.Context, id string, fn bookingsync.BookingMutator) error {
	if id == "" {
		return bookingsync.ErrInvalidKey
	}
	doc := s.bookingDoc(id)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var current *bookingsync.Booking
		snap, err := tx.Get(doc)
		switch {
		case err == nil && snap.Exists():
			current = bookingFromData(id, snap.Data())
		case err != nil && status.Code(err) != codes.NotFound:
			return err
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		next.ID = id
		return tx.Set(doc, bookingData(next), firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	return nil
}

// GetSubscription implements bookingsync.Store
func (s *Storage) GetSubscription(ctx context.Context, email string) (*bookingsync.Subscription, error) {
	email = bookingsync.NormalizeEmail(email)
	if email == "" {
		return nil, bookingsync.ErrInvalidKey
	}
	snap, err := s.subscriptionDoc(email).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, bookingsync.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, bookingsync.ErrSubscriptionNotFound
	}
	return subscriptionFromData(email, snap.Data()), nil
}

// PutSubscription implements bookingsync.Store
func (s *Storage) PutSubscription(ctx context.Context, sub *bookingsync.Subscription) error {
	if sub == nil {
		return bookingsync.ErrInvalidKey
	}
	email := bookingsync.NormalizeEmail(sub.Email)
	if email == "" {
		return bookingsync.ErrInvalidKey
	}
	if _, err := s.subscriptionDoc(email).Set(ctx, subscriptionData(sub), firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// UpdateSubscription implements bookingsync.AtomicStore with a Firestore transaction
func (s *Storage) UpdateSubscription(ctx context.Context, email string, fn bookingsync.SubscriptionMutator) error {
	email = bookingsync.NormalizeEmail(email)
	if email == "" {
		return bookingsync.ErrInvalidKey
	}
	doc := s.subscriptionDoc(email)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var current *bookingsync.Subscription
		snap, err := tx.Get(doc)
		switch {
		case err == nil && snap.Exists():
			current = subscriptionFromData(email, snap.Data())
		case err != nil && status.Code(err) != codes.NotFound:
			return err
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		next.Email = email
		return tx.Set(doc, subscriptionData(next), firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// FindSubscriptionByProviderID implements bookingsync.Store
func (s *Storage) FindSubscriptionByProviderID(ctx context.Context, provider bookingsync.Provider,
	subscriptionID string) (*bookingsync.Subscription, error) {
	if subscriptionID == "" {
		return nil, bookingsync.ErrSubscriptionNotFound
	}

	iter := s.client.Collection(s.subscriptionsCollection).
		Where("provider", "==", string(provider)).
		Where("subscriptionId", "==", subscriptionID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, bookingsync.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}
	return subscriptionFromData(snap.Ref.ID, snap.Data()), nil
}

// HasProcessed implements bookingsync.EventLedger
func (s *Storage) HasProcessed(ctx context.Context, provider bookingsync.Provider, eventID string) (bool, error) {
	snap, err := s.eventDoc(provider, eventID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to get processed event: %w", err)
	}
	return snap.Exists(), nil
}

// RecordEvent implements bookingsync.EventLedger. Create fails with
// AlreadyExists for a second writer, which makes the record exactly-once.
func (s *Storage) RecordEvent(ctx context.Context, event bookingsync.ProcessedEvent) error {
	processedAt := event.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	_, err := s.eventDoc(event.Provider, event.EventID).Create(ctx, map[string]interface{}{
		"provider":    string(event.Provider),
		"eventId":     event.EventID,
		"eventType":   event.EventType,
		"processedAt": processedAt,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return bookingsync.ErrEventAlreadyProcessed
		}
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func (s *Storage) bookingDoc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.bookingsCollection).Doc(id)
}

func (s *Storage) subscriptionDoc(email string) *firestore.DocumentRef {
	return s.client.Collection(s.subscriptionsCollection).Doc(email)
}

func (s *Storage) eventDoc(provider bookingsync.Provider, eventID string) *firestore.DocumentRef {
	return s.client.Collection(s.eventsCollection).Doc(bookingsync.LedgerKey(provider, eventID))
}

func bookingData(b *bookingsync.Booking) map[string]interface{} {
	data := map[string]interface{}{
		"paymentStatus": string(b.PaymentStatus),
		"emailSent":     b.EmailSent,
		"emailError":    b.EmailError,
	}
	setString(data, "clientName", b.ClientName)
	setString(data, "clientEmail", b.ClientEmail)
	setString(data, "clientPhone", b.ClientPhone)
	setString(data, "eventType", b.EventType)
	setString(data, "eventDate", b.EventDate)
	setString(data, "venue", b.Venue)
	setString(data, "startTime", b.StartTime)
	setString(data, "endTime", b.EndTime)
	setString(data, "currency", b.Currency)
	setString(data, "paymentMethod", b.PaymentMethod)
	setString(data, "paymentId", b.PaymentID)
	setString(data, "sessionId", b.SessionID)
	setString(data, "djEmail", b.DJEmail)
	setString(data, "emailMessageId", b.EmailMessageID)
	if b.Amount != 0 {
		data["amount"] = b.Amount
	}
	setTime(data, "createdAt", b.CreatedAt)
	setTime(data, "updatedAt", b.UpdatedAt)
	return data
}

func bookingFromData(id string, data map[string]interface{}) *bookingsync.Booking {
	return &bookingsync.Booking{
		ID:             id,
		ClientName:     getString(data, "clientName"),
		ClientEmail:    getString(data, "clientEmail"),
		ClientPhone:    getString(data, "clientPhone"),
		EventType:      getString(data, "eventType"),
		EventDate:      getString(data, "eventDate"),
		Venue:          getString(data, "venue"),
		StartTime:      getString(data, "startTime"),
		EndTime:        getString(data, "endTime"),
		Amount:         getInt64(data, "amount"),
		Currency:       getString(data, "currency"),
		PaymentStatus:  bookingsync.PaymentStatus(getString(data, "paymentStatus")),
		PaymentMethod:  getString(data, "paymentMethod"),
		PaymentID:      getString(data, "paymentId"),
		SessionID:      getString(data, "sessionId"),
		DJEmail:        getString(data, "djEmail"),
		EmailSent:      getBool(data, "emailSent"),
		EmailError:     getString(data, "emailError"),
		EmailMessageID: getString(data, "emailMessageId"),
		CreatedAt:      getTime(data, "createdAt"),
		UpdatedAt:      getTime(data, "updatedAt"),
	}
}

func subscriptionData(sub *bookingsync.Subscription) map[string]interface{} {
	data := map[string]interface{}{
		"email": bookingsync.NormalizeEmail(sub.Email),
	}
	setString(data, "tier", string(sub.Tier))
	setString(data, "status", string(sub.Status))
	setString(data, "provider", string(sub.Provider))
	setString(data, "customerId", sub.CustomerID)
	setString(data, "subscriptionId", sub.SubscriptionID)
	setString(data, "planId", sub.PlanID)
	setTime(data, "currentPeriodStart", sub.CurrentPeriodStart)
	setTime(data, "currentPeriodEnd", sub.CurrentPeriodEnd)
	setTime(data, "cancelledAt", sub.CancelledAt)
	setTime(data, "lastPaymentAt", sub.LastPaymentAt)
	setTime(data, "lastPaymentFailedAt", sub.LastPaymentFailedAt)
	setTime(data, "statusChangedAt", sub.StatusChangedAt)
	setTime(data, "createdAt", sub.CreatedAt)
	setTime(data, "updatedAt", sub.UpdatedAt)
	return data
}

func subscriptionFromData(email string, data map[string]interface{}) *bookingsync.Subscription {
	return &bookingsync.Subscription{
		Email:               email,
		Tier:                bookingsync.Tier(getString(data, "tier")),
		Status:              bookingsync.SubscriptionStatus(getString(data, "status")),
		Provider:            bookingsync.Provider(getString(data, "provider")),
		CustomerID:          getString(data, "customerId"),
		SubscriptionID:      getString(data, "subscriptionId"),
		PlanID:              getString(data, "planId"),
		CurrentPeriodStart:  getTime(data, "currentPeriodStart"),
		CurrentPeriodEnd:    getTime(data, "currentPeriodEnd"),
		CancelledAt:         getTime(data, "cancelledAt"),
		LastPaymentAt:       getTime(data, "lastPaymentAt"),
		LastPaymentFailedAt: getTime(data, "lastPaymentFailedAt"),
		StatusChangedAt:     getTime(data, "statusChangedAt"),
		CreatedAt:           getTime(data, "createdAt"),
		UpdatedAt:           getTime(data, "updatedAt"),
	}
}

// setString and setTime skip zero values so a merge never blanks a field
func setString(data map[string]interface{}, key, v string) {
	if v != "" {
		data[key] = v
	}
}

func setTime(data map[string]interface{}, key string, t time.Time) {
	if !t.IsZero() {
		data[key] = t.UTC()
	}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}
