package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextCarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test-service", "debug", "json")
	logger.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithEventID(ctx, "ev-1")
	ctx = WithTriggerID(ctx, "t1")

	logger.WithContext(ctx).Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "ev-1", entry["event_id"])
	assert.Equal(t, "t1", entry["trigger_id"])
	assert.Equal(t, "hello", entry["message"])
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetEventID(ctx))
	assert.Empty(t, GetTriggerID(ctx))

	ctx = WithTraceID(ctx, "tr")
	ctx = WithEventID(ctx, "ev")
	ctx = WithTriggerID(ctx, "tg")

	assert.Equal(t, "tr", GetTraceID(ctx))
	assert.Equal(t, "ev", GetEventID(ctx))
	assert.Equal(t, "tg", GetTriggerID(ctx))
}

func TestNewTraceIDUnique(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New("svc", "nope", "json")
	logger.SetOutput(&buf)

	logger.Debug("hidden")
	assert.Empty(t, buf.Bytes(), "debug must be suppressed at info level")

	logger.Info("shown")
	assert.NotEmpty(t, buf.Bytes())
}

func TestLogSecurityEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New("svc", "info", "json")
	logger.SetOutput(&buf)

	logger.LogSecurityEvent(context.Background(), "rate_limit_exceeded", map[string]interface{}{"ip": "1.2.3.4"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rate_limit_exceeded", entry["event_type"])
	assert.Equal(t, "security", entry["severity"])
	assert.Equal(t, "1.2.3.4", entry["ip"])
	assert.Equal(t, "warning", entry["level"])
}
