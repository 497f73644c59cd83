package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/teslashibe/go-voiceloop/internal/log"
)

func restoreGlobalProvider(t *testing.T) {
	t.Helper()
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
}

func TestInitDisabled(t *testing.T) {
	restoreGlobalProvider(t)

	p, err := Init(context.Background(), "", log.Discard())
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitEnabled(t *testing.T) {
	restoreGlobalProvider(t)

	p, err := Init(context.Background(), "localhost:4317", log.Discard())
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, span := Tracer("test").Start(context.Background(), "turn")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// The collector is not running; only the shutdown path is under test.
	_ = p.Shutdown(ctx)
}

func TestNilProviderShutdown(t *testing.T) {
	var p *Provider
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}
