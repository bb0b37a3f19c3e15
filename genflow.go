package genflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/genflow/config"
	icache "github.com/BaSui01/genflow/internal/cache"
	"github.com/BaSui01/genflow/internal/database"
	"github.com/BaSui01/genflow/internal/logging"
	"github.com/BaSui01/genflow/internal/metrics"
	"github.com/BaSui01/genflow/internal/telemetry"
	"github.com/BaSui01/genflow/llm/cache"
	"github.com/BaSui01/genflow/llm/middleware"
	"github.com/BaSui01/genflow/llm/observability"
	"github.com/BaSui01/genflow/llm/pipeline"
	"github.com/BaSui01/genflow/llm/providers/openaicompat"
)

// Runtime 持有一份配置构建出的全部组件。Close 之前可被多个 goroutine 共享。
type Runtime struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger
	level  *zap.AtomicLevel

	collector *metrics.Collector
	telemetry *telemetry.Providers
	costs     *observability.CostTracker
	redis     *icache.Manager
	pool      *database.PoolManager
	ledger    *observability.UsageLedger
	executor  *pipeline.Executor
	provider  *openaicompat.Provider

	mu       sync.Mutex
	reloader *config.Reloader
	stop     chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

type options struct {
	registerer prometheus.Registerer
	httpClient *http.Client
	level      *zap.AtomicLevel
	rewriters  []middleware.RequestRewriter
}

// Option 配置 Runtime
type Option func(*options)

// WithRegisterer 指定 Prometheus 注册表，默认 prometheus.DefaultRegisterer
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient 替换上游 HTTP 客户端
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLevel 让配置热重载可以调整日志级别，通常传 logging.New 返回的级别。
func WithLevel(level zap.AtomicLevel) Option {
	return func(o *options) { o.level = &level }
}

// WithRewriters 在默认改写器之后追加改写器
func WithRewriters(rs ...middleware.RequestRewriter) Option {
	return func(o *options) { o.rewriters = append(o.rewriters, rs...) }
}

// New 校验配置并按顺序构建指标、遥测、缓存、账本、执行器与 Provider。
// 任一步失败时已创建的组件会被关闭。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *Runtime, err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{
		logger: logger.With(zap.String("component", "runtime")),
		level:  o.level,
		stop:   make(chan struct{}),
	}
	rt.cfg.Store(cfg)
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.collector = metrics.NewCollectorWithRegisterer(cfg.MetricsNamespace, o.registerer, logger)

	if rt.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, logger); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	otelMetrics, err := observability.NewMetrics(
		observability.WithTracerProvider(rt.telemetry.TracerProvider()),
		observability.WithMeterProvider(rt.telemetry.MeterProvider()),
	)
	if err != nil {
		return nil, fmt.Errorf("init otel instruments: %w", err)
	}

	responseCache, err := rt.openCache(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err = rt.openLedger(cfg, logger); err != nil {
		return nil, err
	}

	calc := observability.NewCostCalculator()
	calc.UpdatePrices(cfg.Pricing)
	rt.costs = observability.NewCostTracker(calc)

	execOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithCollector(rt.collector),
		pipeline.WithTelemetry(otelMetrics),
		pipeline.WithCostTracker(rt.costs),
	}
	if responseCache != nil {
		execOpts = append(execOpts, pipeline.WithCache(responseCache))
	}
	if rt.ledger != nil {
		execOpts = append(execOpts, pipeline.WithLedger(rt.ledger))
	}
	rt.executor = pipeline.NewExecutor(cfg.Pipeline, execOpts...)

	llmCfg, err := openaicompat.ApplyPreset(cfg.LLM)
	if err != nil {
		return nil, err
	}
	var providerOpts []openaicompat.Option
	if o.httpClient != nil {
		providerOpts = append(providerOpts, openaicompat.WithHTTPClient(o.httpClient))
	}
	if len(o.rewriters) > 0 {
		chain := append([]middleware.RequestRewriter{
			middleware.RequireMessages(), middleware.NewEmptyToolsCleaner(), middleware.NewToolChoiceValidator(),
		}, o.rewriters...)
		providerOpts = append(providerOpts, openaicompat.WithRewriters(middleware.NewRewriterChain(chain...)))
	}
	rt.provider = openaicompat.New(llmCfg, rt.executor, logger, providerOpts...)

	rt.logger.Info("runtime ready",
		zap.String("provider", rt.provider.Name()),
		zap.String("base_url", llmCfg.BaseURL),
		zap.Bool("cache", responseCache != nil),
		zap.Bool("ledger", rt.ledger != nil),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))
	return rt, nil
}

func (rt *Runtime) openCache(cfg *config.Config, logger *zap.Logger) (*cache.ResponseCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	var opts []cache.Option
	var store cache.Store
	if cfg.Redis.Addr != "" {
		m, err := icache.NewManager(icache.Config{
			Addr:                cfg.Redis.Addr,
			Password:            cfg.Redis.Password,
			DB:                  cfg.Redis.DB,
			KeyPrefix:           cfg.Redis.KeyPrefix,
			DefaultTTL:          cfg.Cache.StoreTTL,
			PoolSize:            cfg.Redis.PoolSize,
			MinIdleConns:        cfg.Redis.MinIdleConns,
			HealthCheckInterval: 30 * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		rt.redis = m
		store = m
		opts = append(opts, cache.WithMissDetector(icache.IsCacheMiss))
	}
	return cache.NewResponseCache(store, cfg.Cache.Config, logger, opts...), nil
}

func (rt *Runtime) openLedger(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.Driver == "" {
		return nil
	}
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), logger,
		database.WithCollector(rt.collector))
	if err != nil {
		return err
	}
	rt.pool = pool
	if rt.ledger, err = observability.NewUsageLedger(pool.DB(), logger); err != nil {
		return err
	}
	if cfg.Database.Retention > 0 {
		rt.wg.Add(1)
		go rt.retentionLoop(cfg.Database.Retention)
	}
	return nil
}

// =============================================================================
// 🎯 访问器
// =============================================================================

// Config 返回当前生效的配置，热重载后会变化
func (rt *Runtime) Config() *config.Config { return rt.cfg.Load() }

func (rt *Runtime) Logger() *zap.Logger { return rt.logger }

func (rt *Runtime) Provider() *openaicompat.Provider { return rt.provider }

func (rt *Runtime) Executor() *pipeline.Executor { return rt.executor }

func (rt *Runtime) Collector() *metrics.Collector { return rt.collector }

func (rt *Runtime) Costs() *observability.CostTracker { return rt.costs }

// Ledger 未配置数据库时为 nil
func (rt *Runtime) Ledger() *observability.UsageLedger { return rt.ledger }

// =============================================================================
// 🧹 账本保留
// =============================================================================

// PurgeUsage 在事务中删除超出保留期的用量记录，遇到死锁等瞬时错误整体重试。
func (rt *Runtime) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	if rt.ledger == nil {
		return 0, nil
	}
	var purged int64
	err := rt.pool.WithTransactionRetry(ctx, nil, func(tx *gorm.DB) error {
		n, err := rt.ledger.WithDB(tx).Purge(ctx, before)
		purged = n
		return err
	})
	return purged, err
}

func (rt *Runtime) retentionLoop(retention time.Duration) {
	defer rt.wg.Done()

	interval := min(retention, time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := rt.PurgeUsage(ctx, time.Now().Add(-retention))
		cancel()
		if err != nil {
			rt.logger.Warn("usage purge failed", zap.Error(err))
		} else if n > 0 {
			rt.logger.Info("usage records purged", zap.Int64("count", n))
		}

		select {
		case <-rt.stop:
			return
		case <-ticker.C:
		}
	}
}

// =============================================================================
// 🔄 配置热重载
// =============================================================================

// WatchConfig 轮询 loader 指向的配置文件。变更后调整日志级别与价格表；
// 其余字段需要重建 Runtime 才会生效，这里只记录日志。
func (rt *Runtime) WatchConfig(ctx context.Context, loader *config.Loader, opts ...config.ReloaderOption) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return errors.New("runtime is closed")
	}
	if rt.reloader != nil {
		return errors.New("config watch already running")
	}

	opts = append([]config.ReloaderOption{config.WithReloadLogger(rt.logger)}, opts...)
	r, err := config.NewReloader(loader, rt.Config(), opts...)
	if err != nil {
		return err
	}
	r.OnReload(rt.applyConfig)
	if err := r.Start(ctx); err != nil {
		return err
	}
	rt.reloader = r
	return nil
}

func (rt *Runtime) applyConfig(prev, next *config.Config) {
	rt.cfg.Store(next)

	if rt.level != nil && prev.Log.Level != next.Log.Level {
		if lvl, err := logging.ParseLevel(next.Log.Level); err == nil {
			rt.level.SetLevel(lvl)
			rt.logger.Info("log level changed", zap.String("level", lvl.String()))
		}
	}
	rt.costs.Calculator().UpdatePrices(next.Pricing)

	if prev.LLM.BaseURL != next.LLM.BaseURL || prev.Database.Driver != next.Database.Driver || prev.Redis.Addr != next.Redis.Addr {
		rt.logger.Warn("connection settings changed, restart required to apply")
	}
}

// Close 停止后台任务并关闭所有连接。可重复调用。
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	close(rt.stop)
	reloader := rt.reloader
	rt.mu.Unlock()

	if reloader != nil {
		reloader.Stop()
	}
	rt.wg.Wait()

	var errs []error
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.pool != nil {
		errs = append(errs, rt.pool.Close())
	}
	if rt.telemetry != nil {
		errs = append(errs, rt.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
