package circuitbreaker

import "context"

// Call is a type-safe generic wrapper around CircuitBreaker.CallWithResult.
//
// Usage:
//
//	val, err := circuitbreaker.Call(ctx, cb, func(ctx context.Context) (int, error) {
//	    return 42, nil
//	})
func Call[T any](ctx context.Context, cb CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := cb.CallWithResult(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := result.(T)
	return v, nil
}
