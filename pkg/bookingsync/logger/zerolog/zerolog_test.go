package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/bookingsync/pkg/bookingsync"
)

var _ bookingsync.Logger = (*Logger)(nil)

func TestZerologLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(l *Logger)
	}{
		{"debug", func(l *Logger) { l.Debug("msg", bookingsync.Field{Key: "key", Value: "value"}) }},
		{"info", func(l *Logger) { l.Info("msg", bookingsync.Field{Key: "key", Value: "value"}) }},
		{"warn", func(l *Logger) { l.Warn("msg", bookingsync.Field{Key: "key", Value: "value"}) }},
		{"error", func(l *Logger) { l.Error("msg", bookingsync.Field{Key: "key", Value: "value"}) }},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var output bytes.Buffer
			tt.log(NewLogger(zerolog.New(&output)))

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "msg", entry["message"])
			assert.Equal(t, "value", entry["key"])
		})
	}
}

func TestZerologLogger_LogLevelFiltering(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("debug message")
	logger.Info("info message")
	assert.Zero(t, output.Len(), "debug and info should be filtered out")

	logger.Warn("warn message")
	logger.Error("error message")
	assert.NotZero(t, output.Len())
}

func TestZerologLogger_ErrorField(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output))

	logger.Error("upsert failed", bookingsync.Err(errors.New("backend down")), bookingsync.Field{Key: "attempt", Value: 2})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	assert.Equal(t, "backend down", entry["error"])
	assert.Equal(t, float64(2), entry["attempt"])
}

func TestZerologLogger_With(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output)).With(bookingsync.Field{Key: "provider", Value: "stripe"})

	logger.Info("webhook received")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	assert.Equal(t, "stripe", entry["provider"])
}
