package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/genflow/types"
)

const instrumentationName = "github.com/BaSui01/genflow/llm"

// Metrics 基于 OpenTelemetry 的调用指标与追踪。
// 全局 Provider 未初始化时所有操作都是 noop。
type Metrics struct {
	tracer trace.Tracer
	meter  metric.Meter

	// 计数器
	callTotal    metric.Int64Counter
	retryTotal   metric.Int64Counter
	streamEvents metric.Int64Counter
	tokenTotal   metric.Int64Counter
	cacheTotal   metric.Int64Counter

	// 直方图
	callDuration   metric.Float64Histogram
	costPerRequest metric.Float64Histogram

	activeCalls metric.Int64UpDownCounter
}

// MetricsOption 配置 Metrics
type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	tp trace.TracerProvider
	mp metric.MeterProvider
}

// WithTracerProvider 指定 TracerProvider，默认使用 otel 全局实例
func WithTracerProvider(tp trace.TracerProvider) MetricsOption {
	return func(o *metricsOptions) { o.tp = tp }
}

// WithMeterProvider 指定 MeterProvider，默认使用 otel 全局实例
func WithMeterProvider(mp metric.MeterProvider) MetricsOption {
	return func(o *metricsOptions) { o.mp = mp }
}

// NewMetrics 创建指标收集器
func NewMetrics(opts ...MetricsOption) (*Metrics, error) {
	o := metricsOptions{tp: otel.GetTracerProvider(), mp: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.mp.Meter(instrumentationName)
	m := &Metrics{
		tracer: o.tp.Tracer(instrumentationName),
		meter:  meter,
	}

	var err error
	if m.callTotal, err = meter.Int64Counter("genflow.call.total",
		metric.WithDescription("Total number of pipeline calls"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}
	if m.retryTotal, err = meter.Int64Counter("genflow.retry.total",
		metric.WithDescription("Total number of retried attempts"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, err
	}
	if m.streamEvents, err = meter.Int64Counter("genflow.stream.event.total",
		metric.WithDescription("Stream events by result"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.tokenTotal, err = meter.Int64Counter("genflow.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if m.cacheTotal, err = meter.Int64Counter("genflow.cache.total",
		metric.WithDescription("Response cache lookups by result"),
		metric.WithUnit("{lookup}")); err != nil {
		return nil, err
	}
	if m.callDuration, err = meter.Float64Histogram("genflow.call.duration",
		metric.WithDescription("Call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)); err != nil {
		return nil, err
	}
	if m.costPerRequest, err = meter.Float64Histogram("genflow.cost.per_request",
		metric.WithDescription("Cost per request in USD"),
		metric.WithUnit("USD"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5)); err != nil {
		return nil, err
	}
	if m.activeCalls, err = meter.Int64UpDownCounter("genflow.call.active",
		metric.WithDescription("Number of in-progress calls"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}

	return m, nil
}

// CallAttrs 调用属性
type CallAttrs struct {
	Operation string
	Provider  string
	Model     string
	CallID    string
	Stream    bool
}

func (a CallAttrs) metricAttrs() metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("operation", a.Operation),
		attribute.String("provider", a.Provider),
		attribute.String("model", a.Model),
	)
}

// StartCall 开启调用 span 并增加活跃计数，必须与 EndCall 成对使用。
func (m *Metrics) StartCall(ctx context.Context, attrs CallAttrs) (context.Context, trace.Span) {
	ctx, span := m.tracer.Start(ctx, "genflow."+attrs.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("genflow.operation", attrs.Operation),
			attribute.String("llm.provider", attrs.Provider),
			attribute.String("llm.model", attrs.Model),
			attribute.String("genflow.call_id", attrs.CallID),
			attribute.Bool("genflow.stream", attrs.Stream),
		))
	m.activeCalls.Add(ctx, 1, attrs.metricAttrs())
	return ctx, span
}

// EndCall 结束调用 span 并记录状态与耗时
func (m *Metrics) EndCall(ctx context.Context, span trace.Span, attrs CallAttrs, attempts int, duration time.Duration, err error) {
	defer span.End()

	status := Status(err)
	m.activeCalls.Add(ctx, -1, attrs.metricAttrs())

	withStatus := metric.WithAttributes(
		attribute.String("operation", attrs.Operation),
		attribute.String("provider", attrs.Provider),
		attribute.String("model", attrs.Model),
		attribute.String("status", status),
	)
	m.callTotal.Add(ctx, 1, withStatus)
	m.callDuration.Record(ctx, duration.Seconds(), withStatus)

	span.SetAttributes(
		attribute.String("genflow.status", status),
		attribute.Int("genflow.attempts", attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := types.GetErrorCode(err); code != "" {
			span.SetAttributes(attribute.String("error.code", string(code)))
		}
	}
}

// RecordRetry 记录一次重试，同时在当前 span 上添加事件。
func (m *Metrics) RecordRetry(ctx context.Context, operation string, attempt int, err error, delay time.Duration) {
	m.retryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))

	span := trace.SpanFromContext(ctx)
	span.AddEvent("retry", trace.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.String("error", err.Error()),
		attribute.Float64("delay_ms", float64(delay.Milliseconds())),
	))
}

// RecordStreamEvent result 取值 ok / skipped
func (m *Metrics) RecordStreamEvent(ctx context.Context, operation, result string) {
	m.streamEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}

// RecordUsage 记录 token 与成本
func (m *Metrics) RecordUsage(ctx context.Context, attrs CallAttrs, promptTokens, completionTokens int, cost float64) {
	base := []attribute.KeyValue{
		attribute.String("provider", attrs.Provider),
		attribute.String("model", attrs.Model),
	}
	if promptTokens > 0 {
		m.tokenTotal.Add(ctx, int64(promptTokens),
			metric.WithAttributes(append(base, attribute.String("type", "prompt"))...))
	}
	if completionTokens > 0 {
		m.tokenTotal.Add(ctx, int64(completionTokens),
			metric.WithAttributes(append(base, attribute.String("type", "completion"))...))
	}
	if cost > 0 {
		m.costPerRequest.Record(ctx, cost, metric.WithAttributes(base...))
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("llm.tokens.prompt", promptTokens),
		attribute.Int("llm.tokens.completion", completionTokens),
		attribute.Float64("llm.cost", cost),
	)
}

// RecordCache hit 为 false 表示未命中
func (m *Metrics) RecordCache(ctx context.Context, operation string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("genflow.cache_hit", hit))
}

// Tracer 获取 Tracer
func (m *Metrics) Tracer() trace.Tracer {
	return m.tracer
}

// Status 把调用结果归为有限的几个标签值，避免指标基数膨胀。
func Status(err error) string {
	switch {
	case err == nil:
		return "success"
	case types.IsCancellation(err):
		return "cancelled"
	case types.IsErrorCode(err, types.ErrCircuitOpen):
		return "circuit_open"
	case types.IsErrorCode(err, types.ErrValidation):
		return "invalid"
	case types.IsErrorCode(err, types.ErrDecode):
		return "decode_error"
	default:
		return "error"
	}
}
