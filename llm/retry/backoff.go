package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/genflow/internal/ctxkeys"
	"github.com/BaSui01/genflow/types"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxAttempts     int                                               // 总调用次数上限（含首次），<=0 视为 1
	InitialDelay    time.Duration                                     // 初始延迟时间
	MaxDelay        time.Duration                                     // 最大延迟时间
	Multiplier      float64                                           // 延迟时间倍增因子，须 > 1；开启抖动时 >= 5/3 才保证间隔严格递增
	Jitter          bool                                              // 是否添加 ±25% 随机抖动
	Classifier      func(error) bool                                  // 自定义可重试判定，为空时使用 DefaultClassifier
	RetryableErrors []error                                           // 额外视为可重试的哨兵错误
	OnRetry         func(attempt int, err error, delay time.Duration) // 重试回调，attempt 为即将进行的调用序号
}

// DefaultRetryPolicy 返回默认的重试策略
// 适用于大部分 LLM API 调用场景
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func(ctx context.Context) error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器。policy 会被复制，调用方后续修改不影响已创建的重试器。
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	return newBackoffRetryer(policy, logger)
}

func newBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) *backoffRetryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := *policy

	// 参数校验
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	// 倍增因子必须 > 1，否则间隔不再增长
	if p.Multiplier <= 1.0 {
		p.Multiplier = 2.0
	}

	return &backoffRetryer{
		policy: p,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
//
// 可重试错误按指数退避重试，直到 MaxAttempts 次调用用尽，此时原样返回最后一次的错误；
// 不可重试错误原样返回；ctx 在等待或调用期间取消时返回 CANCELLED 错误且不再重试。
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 1 {
			delay := r.delayFor(attempt-1, lastErr)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, types.NewCancellationError(err)
		}

		result, err := fn(ctxkeys.WithAttempt(ctx, attempt))
		if err == nil {
			if attempt > 1 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		// 调用期间被取消：不再重试
		if ctx.Err() != nil {
			if types.IsErrorCode(err, types.ErrCancelled) {
				return nil, err
			}
			return nil, types.NewCancellationError(ctx.Err()).WithCause(errors.Join(ctx.Err(), err))
		}

		if !r.isRetryable(err) {
			r.logger.Debug("错误不可重试", zap.Error(err))
			return nil, err
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

// delayFor 计算第 n 次重试前的等待时间（n 从 1 开始）
// delay = initial * multiplier^(n-1)，上限 MaxDelay，可选 ±25% 抖动；
// 服务端 Retry-After 更大时以其为准（同样受 MaxDelay 约束）。
func (r *backoffRetryer) delayFor(n int, lastErr error) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(n-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}

	if e, ok := types.AsError(lastErr); ok && e.RetryAfter > 0 {
		delay = math.Max(delay, float64(e.RetryAfter))
	}
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}
	return time.Duration(delay)
}

func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil || types.IsCancellation(err) {
		return false
	}
	for _, target := range r.policy.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	if r.policy.Classifier != nil {
		return r.policy.Classifier(err)
	}
	return DefaultClassifier(err)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return types.NewCancellationError(ctx.Err())
	case <-timer.C:
		return nil
	}
}

// DefaultClassifier 判定错误是否属于瞬时错误：
// *types.Error 按其 Retryable 字段；*RetryableError 总是可重试；
// 网络超时、连接重置与意外 EOF 可重试；取消、解码与校验错误永不重试。
func DefaultClassifier(err error) bool {
	if err == nil || types.IsCancellation(err) {
		return false
	}
	if e, ok := types.AsError(err); ok {
		switch e.Code {
		case types.ErrDecode, types.ErrValidation, types.ErrQueueClosed, types.ErrCircuitOpen:
			return false
		}
		return e.Retryable
	}
	if IsRetryableError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// RetryableError 可重试的错误类型
// 用于标记哪些错误应该触发重试
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryableError 检查错误是否被 WrapRetryable 包装为可重试错误。
// 注意：这与 types.IsRetryable 语义不同 —— 本函数检查 *RetryableError 包装类型，
// 而 types.IsRetryable 检查 *types.Error 的 Retryable 字段。
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// WrapRetryable 将错误包装为可重试错误
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
