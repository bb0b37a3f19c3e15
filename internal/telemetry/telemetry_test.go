package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/genflow/config"
	"github.com/BaSui01/genflow/llm/observability"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Equal(t, otel.GetTracerProvider(), p.TracerProvider())
	assert.Equal(t, otel.GetMeterProvider(), p.MeterProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.DefaultTelemetryConfig()
	cfg.Enabled = true
	cfg.ServiceName = "genflow-test"
	cfg.Environment = "test"

	// gRPC 连接是惰性的，没有 collector 也能初始化
	p, err := Init(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
	assert.Same(t, p.tp, p.TracerProvider())
}

func TestNew_FeedsObservability(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	cfg := config.TelemetryConfig{ServiceName: "genflow-test", SampleRate: 1}
	p, err := New(context.Background(), cfg, sdktrace.WithSyncer(spans), reader)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := observability.NewMetrics(
		observability.WithTracerProvider(p.TracerProvider()),
		observability.WithMeterProvider(p.MeterProvider()))
	require.NoError(t, err)

	attrs := observability.CallAttrs{Operation: "chat", Provider: "openai", Model: "gpt-4o"}
	ctx, span := m.StartCall(context.Background(), attrs)
	m.EndCall(ctx, span, attrs, 1, 10*time.Millisecond, nil)

	ended := spans.GetSpans()
	require.Len(t, ended, 1)
	svc, ok := ended[0].Resource.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "genflow-test", svc.AsString())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.NotEmpty(t, rm.ScopeMetrics)
}

func TestNew_SampleRateZeroDropsRootSpans(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	p, err := New(context.Background(), config.TelemetryConfig{ServiceName: "x"}, sdktrace.WithSyncer(spans), sdkmetric.NewManualReader())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.TracerProvider().Tracer("t").Start(context.Background(), "root")
	span.End()
	assert.Empty(t, spans.GetSpans())
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制中 debug.ReadBuildInfo 返回 "(devel)"
	assert.Equal(t, "dev", buildVersion())
}
