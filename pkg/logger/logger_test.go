package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := New("debug", format)
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	}

	_, err := New("verbose", "json")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}

func TestContextLogger_AddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithPeerAddress(ctx, "10.0.0.7")
	ctx = WithAttemptID(ctx, "att-9")

	cl.LogError(ctx, errors.New("boom"), "negotiation failed")
	cl.LogRequest(context.Background(), "GET", "/health", 200, 3)

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "10.0.0.7", fields["peer_address"])
	assert.Equal(t, "att-9", fields["attempt_id"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "negotiation failed", entries[0].Message)

	plain := entries[1].ContextMap()
	assert.NotContains(t, plain, "peer_address")
	assert.Equal(t, int64(200), plain["status_code"])
}
