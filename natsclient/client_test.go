package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/pkg/tlsutil"
)

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.status.String())
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, time.Second, c.Backoff())
	assert.Equal(t, int32(5), c.circuitThreshold)
	assert.False(t, c.IsHealthy())
}

func TestClient_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, c.Publish(ctx, "a.b", []byte("x")), ErrNotConnected)
	assert.ErrorIs(t, c.PublishToStream(ctx, "a.b", []byte("x")), ErrNotConnected)
	_, err = c.Request(ctx, "a.b", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(ctx, "a.b", func(context.Context, []byte) {}), ErrNotConnected)

	_, err = c.JetStream()
	assert.Error(t, err)
	_, err = c.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(3),
		WithMetrics(registry))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	assert.Equal(t, StatusDisconnected, c.Status())

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, 2*time.Second, c.Backoff())
	assert.Equal(t, int32(3), c.Failures())
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().NATSCircuitBreaker))

	assert.ErrorIs(t, c.Connect(context.Background()), ErrCircuitOpen)
	assert.ErrorIs(t, c.Publish(context.Background(), "x", nil), ErrCircuitOpen)

	c.resetCircuit()
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(0), c.Failures())
	assert.Equal(t, time.Second, c.Backoff())
}

func TestClient_ConnectFailureIsTransient(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(100*time.Millisecond),
		WithMaxReconnects(0),
		WithHealthInterval(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClient_CloseIdempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithToken("secret"))
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Empty(t, c.token)
	assert.True(t, errors.IsInvalid(c.Connect(context.Background())))
}

func TestOptions(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithPingInterval(5*time.Second),
		WithCredentials("user", "pass"),
		WithName("orchd-test"),
		WithMaxBackoff(time.Millisecond),
		WithCircuitBreakerThreshold(0),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, time.Minute, c.maxBackoff, "too small backoff falls back to default")
	assert.Equal(t, int32(5), c.circuitThreshold)
	assert.Len(t, c.buildConnectionOptions(), 11)
}

func TestOptions_Invalid(t *testing.T) {
	tests := map[string]ClientOption{
		"negative reconnects": WithMaxReconnects(-2),
		"zero reconnect wait": WithReconnectWait(0),
		"zero timeout":        WithTimeout(0),
		"negative health":     WithHealthInterval(-time.Second),
		"empty username":      WithCredentials("", "pass"),
		"missing CA":          WithTLS(tlsutil.ClientConfig{CAFiles: []string{"/nonexistent/ca.pem"}}),
	}
	for name, opt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient("nats://localhost:4222", opt)
			require.Error(t, err)
		})
	}
}

func TestOptions_TLS(t *testing.T) {
	c, err := NewClient("tls://localhost:4222", WithTLS(tlsutil.ClientConfig{MinVersion: "1.3"}))
	require.NoError(t, err)
	require.NotNil(t, c.tlsConfig)
	assert.Len(t, c.buildConnectionOptions(), 10)

	plain, err := NewClient("nats://localhost:4222", WithTLS(tlsutil.ClientConfig{}))
	require.NoError(t, err)
	assert.Nil(t, plain.tlsConfig)
}
