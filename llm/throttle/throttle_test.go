package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/genflow/types"
)

// ----------------------------------------------------------------------------
// Unlimited
// ----------------------------------------------------------------------------

func TestUnlimited_PassThrough(t *testing.T) {
	boom := errors.New("boom")
	err := Unlimited().Do(context.Background(), func(context.Context) error { return boom })
	assert.Same(t, boom, err)

	v, err := Run(context.Background(), Unlimited(), func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

// ----------------------------------------------------------------------------
// MaxConcurrency
// ----------------------------------------------------------------------------

func TestMaxConcurrency_BoundHolds(t *testing.T) {
	th := NewMaxConcurrency(2)

	var current, peak atomic.Int64
	var completed atomic.Int64
	var wg sync.WaitGroup
	errs := make([]error, 5)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = th.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				completed.Add(1)
				if i == 1 {
					return errors.New("operation 2 failed")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2), "同时执行数不应超过上限")
	assert.Equal(t, int64(5), completed.Load(), "全部操作都应完成")
	assert.Error(t, errs[1])
	assert.Equal(t, int64(0), th.InFlight())
}

func TestMaxConcurrency_ReleasesOnFailure(t *testing.T) {
	th := NewMaxConcurrency(1)
	boom := errors.New("boom")

	err := th.Do(context.Background(), func(context.Context) error { return boom })
	assert.Same(t, boom, err)

	// 失败后名额必须归还，否则这里会一直阻塞
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, th.Do(ctx, func(context.Context) error { return nil }))
}

func TestMaxConcurrency_ReleasesOnPanic(t *testing.T) {
	th := NewMaxConcurrency(1)

	assert.Panics(t, func() {
		_ = th.Do(context.Background(), func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, int64(0), th.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, th.Do(ctx, func(context.Context) error { return nil }))
}

func TestMaxConcurrency_AcquireHonoursContext(t *testing.T) {
	th := NewMaxConcurrency(1)
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = th.Do(context.Background(), func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := th.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	close(hold)

	require.Error(t, err)
	assert.True(t, types.IsCancellation(err))
	assert.False(t, called)
}

func TestMaxConcurrency_ObserverAndStats(t *testing.T) {
	var seen []int64
	var mu sync.Mutex
	th := NewMaxConcurrency(3, WithObserver(func(n int64) {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	}))

	err := th.Do(context.Background(), func(context.Context) error {
		assert.Equal(t, int64(1), th.InFlight())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, seen)
	assert.Equal(t, int64(3), th.Limit())
	assert.Equal(t, int64(0), th.Waiting())
}

func TestNewMaxConcurrency_InvalidLimit(t *testing.T) {
	assert.Panics(t, func() { NewMaxConcurrency(0) })
}

// 属性：任意上限 N 与任意任务数，峰值并发不超过 N，且所有任务都完成。
func TestProperty_MaxConcurrency(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 4).Draw(rt, "limit")
		tasks := rapid.IntRange(1, 16).Draw(rt, "tasks")
		th := NewMaxConcurrency(limit)

		var current, peak, done atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < tasks; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = th.Do(context.Background(), func(context.Context) error {
					n := current.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					current.Add(-1)
					done.Add(1)
					return nil
				})
			}()
		}
		wg.Wait()

		if peak.Load() > int64(limit) {
			rt.Fatalf("peak %d exceeded limit %d", peak.Load(), limit)
		}
		if done.Load() != int64(tasks) {
			rt.Fatalf("expected %d completions, got %d", tasks, done.Load())
		}
	})
}

// ----------------------------------------------------------------------------
// RateLimit / Chain
// ----------------------------------------------------------------------------

func TestRateLimit_Spacing(t *testing.T) {
	th := NewRateLimit(50, 1) // 每 20ms 一个令牌

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, th.Do(context.Background(), func(context.Context) error { return nil }))
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRateLimit_Cancellation(t *testing.T) {
	th := NewRateLimit(0.1, 1)
	require.NoError(t, th.Do(context.Background(), func(context.Context) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := th.Do(ctx, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, types.IsCancellation(err))
}

func TestChain(t *testing.T) {
	assert.Equal(t, Unlimited(), Chain())
	assert.Equal(t, Unlimited(), Chain(nil, Unlimited()))

	mc := NewMaxConcurrency(1)
	assert.Same(t, mc, Chain(Unlimited(), mc))

	inner := NewMaxConcurrency(2)
	c := Chain(Chain(mc, inner), NewRateLimit(1000, 10))
	require.Len(t, c.(chain), 3, "嵌套 Chain 应被展平")

	err := c.Do(context.Background(), func(context.Context) error {
		assert.Equal(t, int64(1), mc.InFlight())
		assert.Equal(t, int64(1), inner.InFlight())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), mc.InFlight())
}
