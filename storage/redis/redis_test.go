package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		client     redis.UniversalClient
		config     Config
		wantErr    bool
		wantPrefix string
	}{
		{
			name:    "nil client",
			client:  nil,
			config:  DefaultConfig(),
			wantErr: true,
		},
		{
			name:       "default config",
			client:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:     DefaultConfig(),
			wantPrefix: "bookingsync:",
		},
		{
			name:       "empty prefix gets default",
			client:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:     Config{},
			wantPrefix: "bookingsync:",
		},
		{
			name:       "custom prefix",
			client:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:     Config{KeyPrefix: "test:"},
			wantPrefix: "test:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := New(tt.client, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if storage.config.KeyPrefix != tt.wantPrefix {
				t.Errorf("KeyPrefix = %s, want %s", storage.config.KeyPrefix, tt.wantPrefix)
			}
			if got := storage.eventKey(bookingsync.ProviderStripe, "evt_1"); got != tt.wantPrefix+"event:stripe:evt_1" {
				t.Errorf("eventKey = %s", got)
			}
		})
	}
}

func TestStorage_RecordEvent(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	processed, err := storage.HasProcessed(ctx, bookingsync.ProviderPayPal, "WH-1")
	if err != nil || processed {
		t.Fatalf("Expected unprocessed event, got %v, %v", processed, err)
	}

	event := bookingsync.ProcessedEvent{
		Provider:  bookingsync.ProviderPayPal,
		EventID:   "WH-1",
		EventType: "BILLING.SUBSCRIPTION.CANCELLED",
	}
	if err := storage.RecordEvent(ctx, event); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
	if err := storage.RecordEvent(ctx, event); !errors.Is(err, bookingsync.ErrEventAlreadyProcessed) {
		t.Errorf("Expected ErrEventAlreadyProcessed, got %v", err)
	}

	processed, err = storage.HasProcessed(ctx, bookingsync.ProviderPayPal, "WH-1")
	if err != nil || !processed {
		t.Errorf("Expected processed event, got %v, %v", processed, err)
	}

	got, err := storage.GetEvent(ctx, bookingsync.ProviderPayPal, "WH-1")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if got == nil || got.ID == "" || got.EventType != event.EventType || got.ProcessedAt.IsZero() {
		t.Errorf("Unexpected event record: %+v", got)
	}

	ttl, err := client.TTL(ctx, storage.eventKey(bookingsync.ProviderPayPal, "WH-1")).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > DefaultConfig().EventTTL {
		t.Errorf("Unexpected TTL: %v", ttl)
	}
}

func TestStorage_GetEvent_Missing(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got, err := storage.GetEvent(context.Background(), bookingsync.ProviderStripe, "evt_missing")
	if err != nil || got != nil {
		t.Errorf("Expected nil, nil; got %+v, %v", got, err)
	}
}

func TestStorage_RecordEvent_ConcurrentDeliveries(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, Config{EventTTL: time.Minute})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := storage.RecordEvent(ctx, bookingsync.ProcessedEvent{Provider: bookingsync.ProviderStripe, EventID: "evt_race"})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case !errors.Is(err, bookingsync.ErrEventAlreadyProcessed):
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one successful record, got %d", wins)
	}
}
