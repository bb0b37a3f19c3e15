package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/genflow/internal/ctxkeys"
	"github.com/BaSui01/genflow/types"
)

func fastPolicy(maxAttempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

var errTransient = types.NewError(types.ErrUpstreamError, "upstream 503").WithRetryable(true)

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	var mu sync.Mutex
	var delays []time.Duration
	policy := fastPolicy(3)
	policy.OnRetry = func(_ int, _ error, d time.Duration) {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		if callCount < 3 {
			return errTransient // 前两次失败
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
	require.Len(t, delays, 2)
	assert.Less(t, delays[0], delays[1], "重试间隔应严格递增")
}

func TestBackoffRetryer_ExhaustedReturnsLastError(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	var last error
	err := retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		last = types.NewError(types.ErrRateLimited, fmt.Sprintf("attempt %d", callCount)).WithRetryable(true)
		return last
	})

	assert.Equal(t, 3, callCount, "MaxAttempts 为调用总次数")
	assert.Same(t, last, err, "耗尽后应原样返回最后一次错误")
}

func TestBackoffRetryer_NonRetryableUnmodified(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(5), zap.NewNop())
	authErr := types.NewError(types.ErrUnauthorized, "bad key").WithHTTPStatus(401)

	callCount := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		return authErr
	})

	assert.Equal(t, 1, callCount)
	assert.Same(t, authErr, err)
}

func TestBackoffRetryer_PlainErrorsAreFatalByDefault(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())
	plain := errors.New("bad request body")

	callCount := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		return plain
	})
	assert.Equal(t, 1, callCount)
	assert.Same(t, plain, err)
}

func TestBackoffRetryer_ContextCanceledDuringWait(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = 200 * time.Millisecond
	policy.MaxDelay = time.Second
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	callCount := 0
	start := time.Now()
	err := retryer.Do(ctx, func(context.Context) error {
		callCount++
		return errTransient
	})

	require.Error(t, err)
	assert.True(t, types.IsCancellation(err))
	assert.Equal(t, 1, callCount, "取消后不应再次调用")
	assert.Less(t, time.Since(start), 200*time.Millisecond, "等待应被立即打断")
}

func TestBackoffRetryer_ContextCanceledDuringAttempt(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(5), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		cancel()
		<-ctx.Done()
		return errTransient
	})

	assert.Equal(t, 1, callCount)
	assert.True(t, types.IsCancellation(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient, "原始错误仍保留在错误链中")
}

func TestBackoffRetryer_AlreadyCanceled(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := retryer.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, types.IsCancellation(err))
}

func TestBackoffRetryer_RetryableErrors(t *testing.T) {
	retryableErr := errors.New("retryable error")
	nonRetryableErr := errors.New("non-retryable error")

	policy := fastPolicy(4)
	policy.RetryableErrors = []error{retryableErr}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	t.Run("retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(context.Context) error {
			callCount++
			if callCount < 3 {
				return fmt.Errorf("wrapped: %w", retryableErr)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, callCount)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(context.Context) error {
			callCount++
			return nonRetryableErr
		})
		assert.ErrorIs(t, err, nonRetryableErr)
		assert.Equal(t, 1, callCount, "不可重试错误应该只调用一次")
	})
}

func TestBackoffRetryer_CustomClassifier(t *testing.T) {
	policy := fastPolicy(3)
	policy.Classifier = func(error) bool { return true }
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	_ = retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		return errors.New("anything")
	})
	assert.Equal(t, 3, callCount)

	// 取消类错误即使分类器返回 true 也不重试
	callCount = 0
	_ = retryer.Do(context.Background(), func(context.Context) error {
		callCount++
		return types.NewCancellationError(nil)
	})
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_AttemptInContext(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	var seen []int
	_ = retryer.Do(context.Background(), func(ctx context.Context) error {
		seen = append(seen, ctxkeys.Attempt(ctx))
		return errTransient
	})
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestBackoffRetryer_DelayCalculation(t *testing.T) {
	r := newBackoffRetryer(&RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}, nil)

	assert.Equal(t, 100*time.Millisecond, r.delayFor(1, nil))
	assert.Equal(t, 200*time.Millisecond, r.delayFor(2, nil))
	assert.Equal(t, 400*time.Millisecond, r.delayFor(3, nil))
	assert.Equal(t, 800*time.Millisecond, r.delayFor(4, nil))
	assert.Equal(t, 1*time.Second, r.delayFor(5, nil), "应受 MaxDelay 限制")
	assert.Equal(t, 1*time.Second, r.delayFor(20, nil))
}

func TestBackoffRetryer_RetryAfterHint(t *testing.T) {
	r := newBackoffRetryer(&RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, nil)

	hinted := types.NewError(types.ErrRateLimited, "slow down").
		WithRetryable(true).
		WithRetryAfter(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, r.delayFor(1, hinted))

	tooLong := types.NewError(types.ErrRateLimited, "slow down").WithRetryAfter(time.Hour)
	assert.Equal(t, time.Second, r.delayFor(1, tooLong), "Retry-After 同样受 MaxDelay 限制")
}

func TestNewBackoffRetryer_Normalizes(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: -1, Multiplier: 0.5}
	r := newBackoffRetryer(policy, nil)

	assert.Equal(t, 1, r.policy.MaxAttempts)
	assert.Equal(t, time.Second, r.policy.InitialDelay)
	assert.Equal(t, 30*time.Second, r.policy.MaxDelay)
	assert.Equal(t, 2.0, r.policy.Multiplier)
	assert.Equal(t, -1, policy.MaxAttempts, "调用方的 policy 不应被修改")

	constant := newBackoffRetryer(&RetryPolicy{MaxAttempts: 3, Multiplier: 1.0}, nil)
	assert.Equal(t, 2.0, constant.policy.Multiplier, "倍增因子为 1 时间隔不增长，应回退为默认值")
	assert.Less(t, constant.delayFor(1, nil), constant.delayFor(2, nil))
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable types error", errTransient, true},
		{"fatal types error", types.NewError(types.ErrInvalidRequest, "bad"), false},
		{"wrapped retryable", WrapRetryable(errors.New("x")), true},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"cancellation", context.Canceled, false},
		{"decode error", types.NewDecodeError("bad frame", nil).WithRetryable(true), false},
		{"validation error", types.NewValidationError("bad", nil), false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultClassifier(tt.err))
		})
	}
}

func TestWrapRetryable(t *testing.T) {
	assert.Nil(t, WrapRetryable(nil))

	base := errors.New("base")
	wrapped := WrapRetryable(base)
	assert.True(t, IsRetryableError(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "base", wrapped.Error())
}

// 属性：不抖动时，重试间隔在达到 MaxDelay 之前严格递增，且从不超过 MaxDelay。
func TestProperty_DelaysMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := time.Duration(rapid.IntRange(1, 1000).Draw(rt, "initial_ms")) * time.Millisecond
		maxDelay := initial * time.Duration(rapid.IntRange(1, 64).Draw(rt, "cap"))
		mult := rapid.Float64Range(1.1, 4).Draw(rt, "multiplier")
		r := newBackoffRetryer(&RetryPolicy{
			MaxAttempts:  10,
			InitialDelay: initial,
			MaxDelay:     maxDelay,
			Multiplier:   mult,
		}, nil)

		prev := time.Duration(0)
		for n := 1; n <= 10; n++ {
			d := r.delayFor(n, nil)
			if d > maxDelay {
				rt.Fatalf("delay %v exceeds max %v", d, maxDelay)
			}
			if d < prev {
				rt.Fatalf("delay decreased: %v -> %v", prev, d)
			}
			if d == prev && d != maxDelay {
				rt.Fatalf("delay did not grow below the cap: %v", d)
			}
			prev = d
		}
	})
}

// 属性：开启 ±25% 抖动且倍增因子 > 5/3 时，未触及 MaxDelay 前间隔仍严格递增。
func TestProperty_JitteredDelaysIncrease(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := time.Duration(rapid.IntRange(1, 1000).Draw(rt, "initial_ms")) * time.Millisecond
		mult := rapid.Float64Range(1.7, 4).Draw(rt, "multiplier")
		r := newBackoffRetryer(&RetryPolicy{
			MaxAttempts:  10,
			InitialDelay: initial,
			MaxDelay:     initial * 1_000_000,
			Multiplier:   mult,
			Jitter:       true,
		}, nil)

		prev := time.Duration(0)
		for n := 1; n <= 10; n++ {
			d := r.delayFor(n, nil)
			if d <= prev {
				rt.Fatalf("attempt %d: delay %v not greater than %v (multiplier %.3f)", n, d, prev, mult)
			}
			prev = d
		}
	})
}
