package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/metric"
)

func TestNewClient_RejectsEmptyURL(t *testing.T) {
	_, err := NewClient("  ")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestClient_CircuitBreakerOpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithCircuitBreakerThreshold(2),
		WithTimeout(50*time.Millisecond),
		WithMaxReconnects(0),
	)
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, c.Connect(ctx))
	assert.Equal(t, StatusDisconnected, c.Status())

	assert.Error(t, c.Connect(ctx))
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff())

	err = c.Connect(ctx)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
}

func TestClient_HalfOpenAndReset(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	c.recordFailure()
	require.Equal(t, StatusCircuitOpen, c.Status())

	c.halfOpen()
	assert.Equal(t, StatusDisconnected, c.Status())

	c.recordFailure()
	c.resetCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Zero(t, c.Failures())
	assert.Equal(t, time.Second, c.Backoff())
}

func TestClient_BackoffIsCapped(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1", WithCircuitBreakerThreshold(1), WithMaxBackoff(3*time.Second))
	require.NoError(t, err)

	for range 4 {
		c.recordFailure()
		c.halfOpen()
	}
	assert.Equal(t, 3*time.Second, c.Backoff())
}

func TestClient_OperationsRequireConnection(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	err = c.PublishToStream(context.Background(), "x", nil)
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	_, err = c.RTT()
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	assert.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
}

func TestWaitForConnection_Timeout(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForConnection(ctx), errors.ErrConnectionTimeout)
}

func TestWithMetrics_RegistersCollectors(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	_, err := NewClient("nats://127.0.0.1:1", WithMetrics(reg, time.Second))
	require.NoError(t, err)

	// A second client on the same registry collides on names.
	_, err = NewClient("nats://127.0.0.1:1", WithMetrics(reg, time.Second))
	assert.Error(t, err)
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(errors.New("nats: key not found")))
	assert.True(t, IsKVNotFoundError(errors.WrapInvalid(errors.ErrKeyNotFound, "c", "m", "a")))
	assert.False(t, IsKVNotFoundError(nil))
	assert.True(t, IsKVConflictError(errors.New("wrong last sequence: 4")))
	assert.False(t, IsKVConflictError(errors.New("timeout")))
}
