package retry

import (
	"context"

	"go.uber.org/zap"
)

// Do is the type-safe form of Retryer.DoWithResult.
//
// Usage:
//
//	resp, err := retry.Do(ctx, r, func(ctx context.Context) (*Response, error) {
//	    return client.Send(ctx, req)
//	})
func Do[T any](ctx context.Context, r Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := result.(T)
	return v, nil
}

// WithPolicy runs fn under a one-off retryer built from policy.
func WithPolicy[T any](ctx context.Context, policy *RetryPolicy, logger *zap.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	return Do(ctx, newBackoffRetryer(policy, logger), fn)
}
