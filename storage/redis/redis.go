// Package redis provides a Redis implementation of the bookingsync.EventLedger interface.
// Processed webhook events are recorded with SET NX so that concurrent deliveries of the
// same event race on a single key, and expire after a TTL once providers stop retrying.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// Storage implements bookingsync.EventLedger using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "bookingsync:")
	KeyPrefix string

	// EventTTL is how long a processed event is remembered (0 = no expiration)
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "bookingsync:",
		EventTTL:  30 * 24 * time.Hour,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "bookingsync:"
	}
	if config.EventTTL < 0 {
		config.EventTTL = 0
	}

	return &Storage{
		client: client,
		config: config,
	}, nil
}

// eventRecord is the JSON value stored per processed event
type eventRecord struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	EventID     string    `json:"eventId"`
	EventType   string    `json:"eventType"`
	ProcessedAt time.Time `json:"processedAt"`
}

// HasProcessed implements bookingsync.EventLedger
func (s *Storage) HasProcessed(ctx context.Context, provider bookingsync.Provider, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.eventKey(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return n > 0, nil
}

// RecordEvent implements bookingsync.EventLedger
func (s *Storage) RecordEvent(ctx context.Context, event bookingsync.ProcessedEvent) error {
	record := eventRecord{
		ID:          event.ID,
		Provider:    string(event.Provider),
		EventID:     event.EventID,
		EventType:   event.EventType,
		ProcessedAt: event.ProcessedAt.UTC(),
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if event.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal event record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.eventKey(event.Provider, event.EventID), data, s.config.EventTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	if !ok {
		return bookingsync.ErrEventAlreadyProcessed
	}
	return nil
}

// GetEvent returns the recorded entry for an event, or nil if it was never recorded
func (s *Storage) GetEvent(ctx context.Context, provider bookingsync.Provider, eventID string) (*bookingsync.ProcessedEvent, error) {
	data, err := s.client.Get(ctx, s.eventKey(provider, eventID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	var record eventRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event record: %w", err)
	}
	return &bookingsync.ProcessedEvent{
		ID:          record.ID,
		Provider:    bookingsync.Provider(record.Provider),
		EventID:     record.EventID,
		EventType:   record.EventType,
		ProcessedAt: record.ProcessedAt,
	}, nil
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) eventKey(provider bookingsync.Provider, eventID string) string {
	return s.config.KeyPrefix + "event:" + bookingsync.LedgerKey(provider, eventID)
}
