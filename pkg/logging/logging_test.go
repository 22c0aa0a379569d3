package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestWithContextAddsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(&buf, Config{Level: "debug", Format: "json"}))

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithTenant(ctx, "t1")
	ctx = WithActor(ctx, "u1")
	WithContext(ctx, l).Debug("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "t1", rec["tenant_id"])
	assert.Equal(t, "u1", rec["actor"])
	assert.Equal(t, "req-1", RequestID(ctx))
}

func TestTextFormatAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(&buf, Config{Level: "warn", Format: "text"}))
	l.Info("dropped")
	l.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
}
