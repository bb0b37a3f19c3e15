package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	icache "github.com/BaSui01/genflow/internal/cache"
	"github.com/BaSui01/genflow/internal/ctxkeys"
	"github.com/BaSui01/genflow/internal/metrics"
	"github.com/BaSui01/genflow/llm/cache"
	"github.com/BaSui01/genflow/llm/observability"
	"github.com/BaSui01/genflow/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type testEnv struct {
	exec *Executor
	reg  *prometheus.Registry
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Retry.Jitter = false
	return cfg
}

func newTestEnv(t *testing.T, cfg Config, opts ...Option) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegisterer("test", reg, zaptest.NewLogger(t))
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithCollector(collector)}, opts...)
	return &testEnv{exec: NewExecutor(cfg, opts...), reg: reg}
}

// value 读取 test_<name> 中与 labels 完全匹配的样本值，不存在时为 0。
func (env *testEnv) value(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := env.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "test_"+name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				switch {
				case m.GetCounter() != nil:
					return m.GetCounter().GetValue()
				case m.GetGauge() != nil:
					return m.GetGauge().GetValue()
				case m.GetHistogram() != nil:
					return float64(m.GetHistogram().GetSampleCount())
				}
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func transient(msg string) error {
	return types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
}

// =============================================================================
// 🔁 Call
// =============================================================================

func TestCall_RetriesTransientErrors(t *testing.T) {
	env := newTestEnv(t, testConfig())
	var calls atomic.Int32

	got, err := Call(context.Background(), env.exec, "chat", func(ctx context.Context) (int, error) {
		n := calls.Add(1)
		assert.Equal(t, int(n), ctxkeys.Attempt(ctx))
		_, ok := ctxkeys.CallID(ctx)
		assert.True(t, ok, "call id 应在首次尝试前生成")
		if n < 3 {
			return 0, transient("flaky")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2.0, env.value(t, "pipeline_retries_total", map[string]string{"operation": "chat"}))
	assert.Equal(t, 1.0, env.value(t, "pipeline_calls_total", map[string]string{"operation": "chat", "status": "success"}))
}

func TestCall_NonRetryableReturnsImmediately(t *testing.T) {
	env := newTestEnv(t, testConfig())
	bad := types.NewError(types.ErrInvalidRequest, "bad request")
	var calls atomic.Int32

	_, err := Call(context.Background(), env.exec, "chat", func(context.Context) (string, error) {
		calls.Add(1)
		return "", bad
	})

	assert.Same(t, bad, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, env.value(t, "pipeline_retries_total", nil))
}

func TestCall_ExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t, testConfig())
	var calls atomic.Int32

	err := env.exec.Do(context.Background(), "chat", func(context.Context) error {
		return transient(fmt.Sprintf("attempt %d", calls.Add(1)))
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 3", "应返回最后一次的错误")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1.0, env.value(t, "pipeline_calls_total", map[string]string{"operation": "chat", "status": "error"}))
}

func TestCall_PlainErrorsAreNotRetried(t *testing.T) {
	env := newTestEnv(t, testConfig())
	plain := errors.New("boom")
	var calls atomic.Int32

	err := env.exec.Do(context.Background(), "chat", func(context.Context) error {
		calls.Add(1)
		return plain
	})

	assert.ErrorIs(t, err, plain)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_CancelledBeforeStart(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := env.exec.Do(ctx, "chat", func(context.Context) error {
		called = true
		return nil
	})

	assert.True(t, types.IsCancellation(err))
	assert.False(t, called)
	assert.Equal(t, 1.0, env.value(t, "pipeline_calls_total", map[string]string{"status": "cancelled"}))
}

func TestCall_CancelDuringBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.InitialDelay = time.Hour
	cfg.Retry.MaxDelay = time.Hour
	env := newTestEnv(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- env.exec.Do(ctx, "chat", func(context.Context) error {
			calls.Add(1)
			return transient("flaky")
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, types.IsCancellation(err))
	case <-time.After(time.Second):
		t.Fatal("取消后调用未返回")
	}
	assert.Equal(t, int32(1), calls.Load())
	// 取消不计入熔断失败
	assert.Equal(t, "Closed", env.exec.Breaker().State().String())
}

func TestCall_AttemptTimeoutIsPerAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.AttemptTimeout = 20 * time.Millisecond
	env := newTestEnv(t, cfg)
	var calls atomic.Int32

	got, err := Call(context.Background(), env.exec, "chat", func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", types.NewError(types.ErrUpstreamTimeout, "attempt timed out").WithRetryable(true).WithCause(ctx.Err())
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_BreakerOpens(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.CircuitBreaker.Threshold = 2
	cfg.CircuitBreaker.ResetTimeout = time.Hour
	env := newTestEnv(t, cfg)
	var calls atomic.Int32

	fail := func(context.Context) error {
		calls.Add(1)
		return transient("down")
	}
	for range 2 {
		require.Error(t, env.exec.Do(context.Background(), "chat", fail))
	}

	err := env.exec.Do(context.Background(), "chat", fail)
	assert.True(t, types.IsErrorCode(err, types.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load(), "熔断打开后不应再调用下游")

	// 状态回调是异步的
	require.Eventually(t, func() bool {
		return env.value(t, "circuit_breaker_state", map[string]string{"breaker": "test"}) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, env.value(t, "pipeline_calls_total", map[string]string{"status": "circuit_open"}))
}

func TestCall_ClientErrorsDoNotTripBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.CircuitBreaker.Threshold = 1
	env := newTestEnv(t, cfg)

	for range 3 {
		err := env.exec.Do(context.Background(), "chat", func(context.Context) error {
			return types.NewError(types.ErrInvalidRequest, "bad")
		})
		assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	}
	assert.Equal(t, "Closed", env.exec.Breaker().State().String())
}

func TestCall_BreakerDisabled(t *testing.T) {
	env := newTestEnv(t, testConfig(), WithCircuitBreaker(nil))
	assert.Nil(t, env.exec.Breaker())
	require.NoError(t, env.exec.Do(context.Background(), "chat", func(context.Context) error { return nil }))
}

func TestCall_ThrottleBoundsConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Throttle.MaxConcurrency = 2
	env := newTestEnv(t, cfg)

	var (
		current, peak atomic.Int32
		wg            sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.exec.Do(context.Background(), "chat", func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 8.0, env.value(t, "pipeline_calls_total", map[string]string{"status": "success"}))
}

func TestCall_RetryHookIsChained(t *testing.T) {
	var hooked []int
	cfg := testConfig()
	env := newTestEnv(t, cfg)
	env.exec.policy.OnRetry = func(attempt int, _ error, _ time.Duration) {
		hooked = append(hooked, attempt)
	}

	var calls int
	_ = env.exec.Do(context.Background(), "chat", func(context.Context) error {
		calls++
		if calls < 3 {
			return transient("flaky")
		}
		return nil
	})
	assert.Equal(t, []int{2, 3}, hooked)
	assert.Equal(t, 2.0, env.value(t, "pipeline_retries_total", nil))
}

// =============================================================================
// 💾 Cached
// =============================================================================

type answer struct {
	Text string `json:"text"`
}

func newResponseCache(t *testing.T) *cache.ResponseCache {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := icache.NewManager(icache.Config{Addr: mr.Addr(), KeyPrefix: "p:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return cache.NewResponseCache(store, cache.DefaultConfig(), zaptest.NewLogger(t), cache.WithMissDetector(icache.IsCacheMiss))
}

func TestCached_HitSkipsUpstream(t *testing.T) {
	env := newTestEnv(t, testConfig(), WithCache(newResponseCache(t)))
	var calls atomic.Int32
	fn := func(context.Context) (answer, error) {
		calls.Add(1)
		return answer{Text: "hi"}, nil
	}

	v, hit, err := Cached(context.Background(), env.exec, "chat", "k1", fn)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "hi", v.Text)

	v, hit, err = Cached(context.Background(), env.exec, "chat", "k1", fn)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "hi", v.Text)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, env.value(t, "cache_hits_total", map[string]string{"cache_type": "response"}))
	assert.Equal(t, 1.0, env.value(t, "cache_misses_total", map[string]string{"cache_type": "response"}))
}

func TestCached_ErrorsAreNotStored(t *testing.T) {
	env := newTestEnv(t, testConfig(), WithCache(newResponseCache(t)))
	bad := types.NewError(types.ErrInvalidRequest, "bad")

	_, _, err := Cached(context.Background(), env.exec, "chat", "k", func(context.Context) (answer, error) {
		return answer{}, bad
	})
	require.ErrorIs(t, err, bad)

	v, hit, err := Cached(context.Background(), env.exec, "chat", "k", func(context.Context) (answer, error) {
		return answer{Text: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", v.Text)
}

func TestCached_WithoutCacheOrKey(t *testing.T) {
	env := newTestEnv(t, testConfig())
	var calls int
	fn := func(context.Context) (int, error) { calls++; return calls, nil }

	for range 2 {
		_, hit, err := Cached(context.Background(), env.exec, "chat", "k", fn)
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.Equal(t, 2, calls)

	withCache := newTestEnv(t, testConfig(), WithCache(newResponseCache(t)))
	_, hit, err := Cached(context.Background(), withCache.exec, "chat", "", fn)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, calls)
}

// =============================================================================
// 💰 RecordUsage
// =============================================================================

func TestRecordUsage(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	ledger, err := observability.NewUsageLedger(db, zaptest.NewLogger(t))
	require.NoError(t, err)

	env := newTestEnv(t, testConfig(), WithLedger(ledger))

	ctx, cancel := context.WithCancel(ctxkeys.WithCallID(context.Background(), "call-1"))
	cancel() // 账本写入不受调用方取消影响

	cost := env.exec.RecordUsage(ctx, Usage{
		Operation:        "chat",
		Provider:         "openai",
		Model:            "gpt-4o",
		TenantID:         "t1",
		PromptTokens:     1000,
		CompletionTokens: 1000,
		Attempts:         2,
		Latency:          150 * time.Millisecond,
	})
	assert.InDelta(t, 0.0125, cost, 1e-9)

	cached := env.exec.RecordUsage(context.Background(), Usage{
		Operation: "chat", Provider: "openai", Model: "gpt-4o",
		PromptTokens: 1000, CompletionTokens: 1000, Cached: true,
	})
	assert.Zero(t, cached, "缓存命中不计费")

	records, err := ledger.List(context.Background(), observability.UsageFilter{TenantID: "t1"}, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "call-1", records[0].CallID)
	assert.Equal(t, "success", records[0].Status)
	assert.Equal(t, 2, records[0].Attempts)
	assert.Equal(t, int64(150), records[0].LatencyMs)

	summary := env.exec.Costs().Summary()
	assert.Equal(t, 1, summary.RequestCount)
	assert.Equal(t, 2.0, env.value(t, "llm_requests_total", map[string]string{"provider": "openai", "model": "gpt-4o", "status": "success"}))
	assert.Equal(t, 2000.0, env.value(t, "llm_tokens_used_total", map[string]string{"type": "prompt"}))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "default", cfg.Name)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, "[DONE]", cfg.Stream.DoneSentinel)

	p := cfg.Retry.Policy()
	assert.Equal(t, cfg.Retry.MaxAttempts, p.MaxAttempts)
	assert.Equal(t, cfg.Retry.InitialDelay, p.InitialDelay)

	e := NewExecutor(Config{}, WithThrottle(nil))
	assert.Equal(t, "default", e.Name())
	assert.Nil(t, e.Breaker())
	assert.NotNil(t, e.Costs())
	assert.Nil(t, e.Cache())
}
