// Package postgres provides a PostgreSQL implementation of the bookingsync.Store interface.
// Read-modify-write updates run in a transaction holding a row lock (SELECT FOR UPDATE),
// and the webhook event ledger relies on the primary key for exactly-once inserts.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

//go:embed schema.sql
var schema string

// Storage implements bookingsync.Store, bookingsync.AtomicStore and
// bookingsync.EventLedger using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// MigrateOnStart creates the tables when they do not exist
	MigrateOnStart bool

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often to run cleanup
	EventTTL        time.Duration // How long processed webhook events are remembered
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		MigrateOnStart:  true,
		CleanupEnabled:  true,
		CleanupInterval: 1 * time.Hour,
		EventTTL:        30 * 24 * time.Hour, // providers stop retrying well before this
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.MigrateOnStart {
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	if config.CleanupEnabled && config.CleanupInterval > 0 && config.EventTTL > 0 {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Migrate creates the tables and indexes used by the adapter
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const bookingColumns = `id, client_name, client_email, client_phone, event_type, event_date,
	venue, start_time, end_time, amount, currency, payment_status, payment_method, payment_id,
	session_id, dj_email, email_sent, email_error, email_message_id, created_at, updated_at`

const subscriptionColumns = `email, tier, status, provider, customer_id, subscription_id, plan_id,
	current_period_start, current_period_end, cancelled_at, last_payment_at, last_payment_failed_at,
	status_changed_at, created_at, updated_at`

// GetBooking implements bookingsync.Store
func (s *Storage) GetBooking(ctx context.Context, id string) (*bookingsync.Booking, error) {
	if id == "" {
		return nil, bookingsync.ErrInvalidKey
	}
	b, err := scanBooking(s.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND created_at IS NOT NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bookingsync.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// PutBooking implements bookingsync.Store
func (s *Storage) PutBooking(ctx context.Context, b *bookingsync.Booking) error {
	if b == nil || b.ID == "" {
		return bookingsync.ErrInvalidKey
	}
	if err := putBooking(ctx, s.pool, b); err != nil {
		return fmt.Errorf("failed to put booking: %w", err)
	}
	return nil
}

// UpdateBooking implements bookingsync.AtomicStore
func (s *Storage) UpdateBooking(ctx context.Context, id string, fn bookingsync.BookingMutator) error {
	if id == "" {
		return bookingsync.ErrInvalidKey
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	// Ensure a row exists so the lock below also serializes first writers.
	// A placeholder has no created_at and reads as missing.
	_, err = tx.Exec(ctx, `INSERT INTO bookings (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("failed to ensure booking row: %w", err)
	}

	current, err := scanBooking(tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return fmt.Errorf("failed to lock booking: %w", err)
	}
	if current.CreatedAt.IsZero() {
		current = nil
	}

	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	next.ID = id
	if err := putBooking(ctx, tx, next); err != nil {
		return fmt.Errorf("failed to put booking: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetSubscription implements bookingsync.Store
func (s *Storage) GetSubscription(ctx context.Context, email string) (*bookingsync.Subscription, error) {
	email = bookingsync.NormalizeEmail(email)
	if email == "" {
		return nil, bookingsync.ErrInvalidKey
	}
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE email = $1 AND created_at IS NOT NULL`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bookingsync.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// PutSubscription implements bookingsync.Store
func (s *Storage) PutSubscription(ctx context.Context, sub *bookingsync.Subscription) error {
	if sub == nil || bookingsync.NormalizeEmail(sub.Email) == "" {
		return bookingsync.ErrInvalidKey
	}
	if err := putSubscription(ctx, s.pool, sub); err != nil {
		return fmt.Errorf("failed to put subscription: %w", err)
	}
	return nil
}

// UpdateSubscription implements bookingsync.AtomicStore
func (s *Storage) UpdateSubscription(ctx context.Context, email string, fn bookingsync.SubscriptionMutator) error {
	email = bookingsync.NormalizeEmail(email)
	if email == "" {
		return bookingsync.ErrInvalidKey
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `INSERT INTO subscriptions (email) VALUES ($1) ON CONFLICT (email) DO NOTHING`, email)
	if err != nil {
		return fmt.Errorf("failed to ensure subscription row: %w", err)
	}

	current, err := scanSubscription(tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE email = $1 FOR UPDATE`, email))
	if err != nil {
		return fmt.Errorf("failed to lock subscription: %w", err)
	}
	if current.CreatedAt.IsZero() {
		current = nil
	}

	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	next.Email = email
	if err := putSubscription(ctx, tx, next); err != nil {
		return fmt.Errorf("failed to put subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// FindSubscriptionByProviderID implements bookingsync.Store
func (s *Storage) FindSubscriptionByProviderID(ctx context.Context, provider bookingsync.Provider,
	subscriptionID string) (*bookingsync.Subscription, error) {
	if subscriptionID == "" {
		return nil, bookingsync.ErrSubscriptionNotFound
	}
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE provider = $1 AND subscription_id = $2 AND created_at IS NOT NULL
			ORDER BY updated_at DESC
			LIMIT 1`,
		string(provider), subscriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bookingsync.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

// HasProcessed implements bookingsync.EventLedger
func (s *Storage) HasProcessed(ctx context.Context, provider bookingsync.Provider, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE provider = $1 AND event_id = $2)`,
		string(provider), eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// RecordEvent implements bookingsync.EventLedger
func (s *Storage) RecordEvent(ctx context.Context, event bookingsync.ProcessedEvent) error {
	processedAt := event.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (provider, event_id, event_type, processed_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (provider, event_id) DO NOTHING`,
		string(event.Provider), event.EventID, event.EventType, processedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bookingsync.ErrEventAlreadyProcessed
	}
	return nil
}

// startCleanup runs periodic cleanup of old ledger entries
func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//nolint:errcheck // the next tick retries
			_ = s.Cleanup(ctx)
		}
	}
}

// Cleanup deletes ledger entries older than EventTTL
func (s *Storage) Cleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.config.EventTTL)
	if _, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE processed_at < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to cleanup webhook events: %w", err)
	}
	return nil
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func putBooking(ctx context.Context, db execer, b *bookingsync.Booking) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	status := b.PaymentStatus
	if status == "" {
		status = bookingsync.PaymentPending
	}

	_, err := db.Exec(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			ON CONFLICT (id) DO UPDATE SET
				client_name = EXCLUDED.client_name,
				client_email = EXCLUDED.client_email,
				client_phone = EXCLUDED.client_phone,
				event_type = EXCLUDED.event_type,
				event_date = EXCLUDED.event_date,
				venue = EXCLUDED.venue,
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				amount = EXCLUDED.amount,
				currency = EXCLUDED.currency,
				payment_status = EXCLUDED.payment_status,
				payment_method = EXCLUDED.payment_method,
				payment_id = EXCLUDED.payment_id,
				session_id = EXCLUDED.session_id,
				dj_email = EXCLUDED.dj_email,
				email_sent = EXCLUDED.email_sent,
				email_error = EXCLUDED.email_error,
				email_message_id = EXCLUDED.email_message_id,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at`,
		b.ID, b.ClientName, b.ClientEmail, b.ClientPhone, b.EventType, b.EventDate,
		b.Venue, b.StartTime, b.EndTime, b.Amount, b.Currency, string(status), b.PaymentMethod, b.PaymentID,
		b.SessionID, b.DJEmail, b.EmailSent, b.EmailError, b.EmailMessageID, createdAt.UTC(), updatedAt.UTC(),
	)
	return err
}

func putSubscription(ctx context.Context, db execer, sub *bookingsync.Subscription) error {
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := sub.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := db.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (email) DO UPDATE SET
				tier = EXCLUDED.tier,
				status = EXCLUDED.status,
				provider = EXCLUDED.provider,
				customer_id = EXCLUDED.customer_id,
				subscription_id = EXCLUDED.subscription_id,
				plan_id = EXCLUDED.plan_id,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				cancelled_at = EXCLUDED.cancelled_at,
				last_payment_at = EXCLUDED.last_payment_at,
				last_payment_failed_at = EXCLUDED.last_payment_failed_at,
				status_changed_at = EXCLUDED.status_changed_at,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at`,
		bookingsync.NormalizeEmail(sub.Email), string(sub.Tier), string(sub.Status), string(sub.Provider),
		sub.CustomerID, sub.SubscriptionID, sub.PlanID,
		nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd), nullTime(sub.CancelledAt),
		nullTime(sub.LastPaymentAt), nullTime(sub.LastPaymentFailedAt), nullTime(sub.StatusChangedAt),
		createdAt.UTC(), updatedAt.UTC(),
	)
	return err
}

func scanBooking(row pgx.Row) (*bookingsync.Booking, error) {
	var b bookingsync.Booking
	var status string
	var createdAt, updatedAt *time.Time

	err := row.Scan(
		&b.ID, &b.ClientName, &b.ClientEmail, &b.ClientPhone, &b.EventType, &b.EventDate,
		&b.Venue, &b.StartTime, &b.EndTime, &b.Amount, &b.Currency, &status, &b.PaymentMethod, &b.PaymentID,
		&b.SessionID, &b.DJEmail, &b.EmailSent, &b.EmailError, &b.EmailMessageID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.PaymentStatus = bookingsync.PaymentStatus(status)
	b.CreatedAt = fromNull(createdAt)
	b.UpdatedAt = fromNull(updatedAt)
	return &b, nil
}

func scanSubscription(row pgx.Row) (*bookingsync.Subscription, error) {
	var sub bookingsync.Subscription
	var tier, status, provider string
	var periodStart, periodEnd, cancelledAt, lastPaymentAt, lastFailedAt, changedAt, createdAt, updatedAt *time.Time

	err := row.Scan(
		&sub.Email, &tier, &status, &provider, &sub.CustomerID, &sub.SubscriptionID, &sub.PlanID,
		&periodStart, &periodEnd, &cancelledAt, &lastPaymentAt, &lastFailedAt,
		&changedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Tier = bookingsync.Tier(tier)
	sub.Status = bookingsync.SubscriptionStatus(status)
	sub.Provider = bookingsync.Provider(provider)
	sub.CurrentPeriodStart = fromNull(periodStart)
	sub.CurrentPeriodEnd = fromNull(periodEnd)
	sub.CancelledAt = fromNull(cancelledAt)
	sub.LastPaymentAt = fromNull(lastPaymentAt)
	sub.LastPaymentFailedAt = fromNull(lastFailedAt)
	sub.StatusChangedAt = fromNull(changedAt)
	sub.CreatedAt = fromNull(createdAt)
	sub.UpdatedAt = fromNull(updatedAt)
	return &sub, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func fromNull(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
