package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/genflow/internal/ctxkeys"
	"github.com/BaSui01/genflow/internal/metrics"
	"github.com/BaSui01/genflow/llm/cache"
	"github.com/BaSui01/genflow/llm/circuitbreaker"
	"github.com/BaSui01/genflow/llm/observability"
	"github.com/BaSui01/genflow/llm/retry"
	"github.com/BaSui01/genflow/llm/throttle"
)

// Executor 组合了一次上游调用需要的全部弹性与观测能力，可被多个 goroutine 共享。
type Executor struct {
	cfg      Config
	policy   retry.RetryPolicy
	breaker  circuitbreaker.CircuitBreaker
	throttle throttle.Throttle
	cache    *cache.ResponseCache

	collector *metrics.Collector
	telemetry *observability.Metrics
	costs     *observability.CostTracker
	ledger    *observability.UsageLedger

	logger *zap.Logger
}

type options struct {
	logger     *zap.Logger
	collector  *metrics.Collector
	telemetry  *observability.Metrics
	cache      *cache.ResponseCache
	costs      *observability.CostTracker
	ledger     *observability.UsageLedger
	throttle   throttle.Throttle
	breaker    circuitbreaker.CircuitBreaker
	breakerSet bool
}

// Option 配置 Executor
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCollector 写入 Prometheus 指标
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithTelemetry 写入 OpenTelemetry span 与指标
func WithTelemetry(m *observability.Metrics) Option {
	return func(o *options) { o.telemetry = m }
}

// WithCache 启用响应缓存（仅 Cached 使用）
func WithCache(c *cache.ResponseCache) Option {
	return func(o *options) { o.cache = c }
}

// WithCostTracker 替换默认的成本累计器
func WithCostTracker(t *observability.CostTracker) Option {
	return func(o *options) { o.costs = t }
}

// WithLedger 持久化每次调用的用量
func WithLedger(l *observability.UsageLedger) Option {
	return func(o *options) { o.ledger = l }
}

// WithThrottle 覆盖由配置构造的限流器
func WithThrottle(t throttle.Throttle) Option {
	return func(o *options) { o.throttle = t }
}

// WithCircuitBreaker 覆盖由配置构造的熔断器，传 nil 关闭熔断
func WithCircuitBreaker(cb circuitbreaker.CircuitBreaker) Option {
	return func(o *options) {
		o.breaker = cb
		o.breakerSet = true
	}
}

// NewExecutor 按配置构造执行器
func NewExecutor(cfg Config, opts ...Option) *Executor {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.costs == nil {
		o.costs = observability.NewCostTracker(nil)
	}

	e := &Executor{
		cfg:       cfg,
		policy:    *cfg.Retry.Policy(),
		throttle:  o.throttle,
		breaker:   o.breaker,
		cache:     o.cache,
		collector: o.collector,
		telemetry: o.telemetry,
		costs:     o.costs,
		ledger:    o.ledger,
		logger:    o.logger.With(zap.String("component", "pipeline"), zap.String("pipeline", cfg.Name)),
	}
	if e.throttle == nil {
		e.throttle = e.buildThrottle()
	}
	if !o.breakerSet && cfg.CircuitBreaker.Enabled {
		e.breaker = e.buildBreaker()
	}

	e.logger.Debug("pipeline initialized",
		zap.Int("max_attempts", e.policy.MaxAttempts),
		zap.Int("max_concurrency", cfg.Throttle.MaxConcurrency),
		zap.Float64("rate_per_second", cfg.Throttle.RatePerSecond),
		zap.Bool("circuit_breaker", e.breaker != nil),
		zap.Bool("cache", e.cache != nil))
	return e
}

func (e *Executor) buildThrottle() throttle.Throttle {
	var parts []throttle.Throttle
	if n := e.cfg.Throttle.MaxConcurrency; n > 0 {
		parts = append(parts, throttle.NewMaxConcurrency(n, throttle.WithObserver(func(inFlight int64) {
			if e.collector != nil {
				e.collector.SetInFlight(e.cfg.Name, inFlight)
			}
		})))
	}
	if r := e.cfg.Throttle.RatePerSecond; r > 0 {
		parts = append(parts, throttle.NewRateLimit(r, e.cfg.Throttle.Burst))
	}
	return throttle.Chain(parts...)
}

func (e *Executor) buildBreaker() circuitbreaker.CircuitBreaker {
	c := e.cfg.CircuitBreaker
	return circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Threshold:        c.Threshold,
		ResetTimeout:     c.ResetTimeout,
		HalfOpenMaxCalls: c.HalfOpenMaxCalls,
		OnStateChange: func(from, to circuitbreaker.State) {
			e.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if e.collector != nil {
				e.collector.SetBreakerState(e.cfg.Name, int(to))
			}
		},
	}, e.logger)
}

// Name 返回流水线名称
func (e *Executor) Name() string { return e.cfg.Name }

// Config 返回构造时的配置
func (e *Executor) Config() Config { return e.cfg }

// Breaker 返回熔断器，未启用时为 nil
func (e *Executor) Breaker() circuitbreaker.CircuitBreaker { return e.breaker }

// Costs 返回成本累计器
func (e *Executor) Costs() *observability.CostTracker { return e.costs }

// Cache 返回响应缓存，未启用时为 nil
func (e *Executor) Cache() *cache.ResponseCache { return e.cache }

// callState 一次调用的观测状态
type callState struct {
	op       string
	attrs    observability.CallAttrs
	start    time.Time
	attempts int
}

// begin 准备调用上下文：补齐 call id 并开启 span。
func (e *Executor) begin(ctx context.Context, op string, stream bool) (context.Context, *callState, func(err error)) {
	ctx, callID := ctxkeys.EnsureCallID(ctx)
	provider, _ := ctxkeys.Provider(ctx)
	model, _ := ctxkeys.LLMModel(ctx)
	st := &callState{
		op:    op,
		start: time.Now(),
		attrs: observability.CallAttrs{
			Operation: op,
			Provider:  provider,
			Model:     model,
			CallID:    callID,
			Stream:    stream,
		},
	}

	end := func(error) {}
	if e.telemetry != nil {
		sctx, s := e.telemetry.StartCall(ctx, st.attrs)
		ctx = sctx
		end = func(err error) {
			e.telemetry.EndCall(sctx, s, st.attrs, st.attempts, time.Since(st.start), err)
		}
	}
	return ctx, st, end
}

// finish 记录 Prometheus 指标与日志
func (e *Executor) finish(st *callState, err error) {
	status := observability.Status(err)
	if e.collector != nil {
		e.collector.RecordCall(st.op, status, time.Since(st.start))
	}
	if err != nil {
		e.logger.Debug("call failed",
			zap.String("operation", st.op),
			zap.String("call_id", st.attrs.CallID),
			zap.Int("attempts", st.attempts),
			zap.String("status", status),
			zap.Error(err))
	}
}

// retryer 为一次调用构造重试器，OnRetry 记录该调用的重试指标。
func (e *Executor) retryer(ctx context.Context, st *callState) retry.Retryer {
	p := e.policy
	user := p.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		if e.collector != nil {
			e.collector.RecordRetry(st.op)
		}
		if e.telemetry != nil {
			e.telemetry.RecordRetry(ctx, st.op, attempt, err, delay)
		}
		if user != nil {
			user(attempt, err, delay)
		}
	}
	return retry.NewBackoffRetryer(&p, e.logger)
}

// run 依次套上 breaker → retry → throttle。timeout 只作用于单次尝试。
func (e *Executor) run(ctx context.Context, st *callState, timeout time.Duration, fn func(ctx context.Context) error) error {
	r := e.retryer(ctx, st)

	attempt := func(ctx context.Context) error {
		return e.throttle.Do(ctx, func(ctx context.Context) error {
			st.attempts++
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return fn(ctx)
		})
	}
	retried := func(ctx context.Context) error {
		return r.Do(ctx, attempt)
	}

	if e.breaker == nil {
		return retried(ctx)
	}
	return e.breaker.Call(ctx, retried)
}
