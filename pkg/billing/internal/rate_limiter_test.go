package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_PerIPBurst(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.allowAt("10.0.0.1", now), "request %d", i)
	}
	assert.False(t, limiter.allowAt("10.0.0.1", now))

	// other clients have their own bucket
	assert.True(t, limiter.allowAt("10.0.0.2", now))

	// one token comes back after window/limit
	assert.True(t, limiter.allowAt("10.0.0.1", now.Add(21*time.Second)))
}

func TestRateLimiter_CleanupDropsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(10, 50*time.Millisecond)

	for i := 0; i < 20; i++ {
		limiter.Allow(fmt.Sprintf("192.168.1.%d", i))
	}
	require.Equal(t, 20, limiter.Len())

	time.Sleep(60 * time.Millisecond)
	limiter.Cleanup()
	assert.Zero(t, limiter.Len())
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	req.RemoteAddr = "203.0.113.9:51234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	assert.Equal(t, "203.0.113.9", GetClientIP(req))

	req.Header.Set("X-Forwarded-For", " 198.51.100.7 , 10.0.0.1")
	assert.Equal(t, "198.51.100.7", GetClientIP(req))
}

func TestReadBodyStrict(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"evt_1"}`))
	body, err := ReadBodyStrict(rec, req, DefaultBodyLimit)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"evt_1"}`, string(body))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	_, err = ReadBodyStrict(rec, req, DefaultBodyLimit)
	assert.ErrorIs(t, err, ErrEmptyBody)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	_, err = ReadBodyStrict(rec, req, 16)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
