package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestGetDefaultsToNop(t *testing.T) {
	mu.Lock()
	prev := globalLogger
	globalLogger = nil
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		globalLogger = prev
		mu.Unlock()
	})

	assert.NotNil(t, Get())
	assert.NoError(t, Sync())
}

func TestWithContextAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := ContextWith(context.Background(), SessionKey, "orders")
	ctx = ContextWith(ctx, OperationKey, "query")
	ctx = ContextWith(ctx, DestinationKey, "public.events")

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "orders", fields["session"])
	assert.Equal(t, "query", fields["operation"])
	assert.Equal(t, "public.events", fields["destination"])
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	Component(zap.New(core), "session").Info("opened")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "session", logs.All()[0].ContextMap()["component"])
}
