package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestInitWithoutEndpoint(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "arena-test"})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitWithEndpoint(t *testing.T) {
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	p, err := Init(context.Background(), Config{
		OTLPEndpoint: "http://127.0.0.1:1",
		ServiceName:  "arena-test",
		Interval:     time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	c, err := p.Meter("test").Int64Counter("arena.test")
	require.NoError(t, err)
	c.Add(context.Background(), 1)

	// Nothing listens on the endpoint; only the shutdown path matters here.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		host     string
		insecure bool
	}{
		{"http://collector:4318", "collector:4318", true},
		{"https://collector:4318", "collector:4318", false},
		{"collector:4318", "collector:4318", false},
	}
	for _, tt := range tests {
		host, insecure := splitEndpoint(tt.in)
		assert.Equal(t, tt.host, host, tt.in)
		assert.Equal(t, tt.insecure, insecure, tt.in)
	}
}
