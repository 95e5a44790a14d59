package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"

	"github.com/warmline/warmline/config"
)

// preserveGlobals restores the global OTel providers after the test so
// enabled-path tests don't leak into each other.
func preserveGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestInit_DisabledIsNoop(t *testing.T) {
	preserveGlobals(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.traces)
	assert.Nil(t, p.metrics)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledRegistersSDKProviders(t *testing.T) {
	preserveGlobals(t)

	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "warmline-test",
		SampleRate:   0.5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p.traces)
	require.NotNil(t, p.metrics)

	_, tracesAreSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, metricsAreSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tracesAreSDK)
	assert.True(t, metricsAreSDK)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestShutdown_NilReceiver(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdown_RealProvidersWithoutCollector(t *testing.T) {
	preserveGlobals(t)

	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "warmline-shutdown-test",
		SampleRate:   1.0,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	// No collector is listening, so the exporters may report a connection
	// error on flush. Shutdown still has to finish within the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() {
		_ = p.Shutdown(ctx)
	})
}

func TestServiceVersion(t *testing.T) {
	// Test binaries report "(devel)" from build info, which maps to "dev".
	assert.Equal(t, "dev", serviceVersion())
}
