package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/genflow/llm/cache"
)

// Call 通过流水线执行 fn 并返回其结果。op 是指标与日志中的操作名。
//
// 返回的错误与内层一致：不可重试错误、重试耗尽时最后一次的错误原样返回，
// 熔断打开时返回 CIRCUIT_OPEN，ctx 取消时返回 CANCELLED。
func Call[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, st, end := e.begin(ctx, op, false)

	var out T
	err := e.run(ctx, st, e.cfg.AttemptTimeout, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})

	end(err)
	e.finish(st, err)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Do 是没有返回值的 Call
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Cached 先查响应缓存，未命中时执行 Call 并在成功后回写。
// 未配置缓存或 key 为空时等同于 Call。命中不占用熔断与限流额度。
func Cached[T any](ctx context.Context, e *Executor, op, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	if e.cache == nil || key == "" {
		v, err := Call(ctx, e, op, fn)
		return v, false, err
	}

	if v, ok := cache.GetJSON[T](ctx, e.cache, key); ok {
		e.recordCache(ctx, op, true)
		e.logger.Debug("cache hit", zap.String("operation", op), zap.String("key", key))
		return v, true, nil
	}
	e.recordCache(ctx, op, false)

	v, err := Call(ctx, e, op, fn)
	if err != nil {
		return v, false, err
	}
	cache.SetJSON(ctx, e.cache, key, v)
	return v, false, nil
}

func (e *Executor) recordCache(ctx context.Context, op string, hit bool) {
	if e.collector != nil {
		if hit {
			e.collector.RecordCacheHit("response")
		} else {
			e.collector.RecordCacheMiss("response")
		}
	}
	if e.telemetry != nil {
		e.telemetry.RecordCache(ctx, op, hit)
	}
}
