package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/genflow/types"
)

// Throttle admits a single attempt of an operation.
type Throttle interface {
	// Do waits for admission, runs fn and releases on every exit path.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Run is the value-returning form of Throttle.Do.
func Run[T any](ctx context.Context, t Throttle, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := t.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// ============================================================
// Unlimited
// ============================================================

type unlimited struct{}

// Unlimited returns a pass-through throttle with no bookkeeping.
func Unlimited() Throttle { return unlimited{} }

func (unlimited) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ============================================================
// Max concurrency
// ============================================================

// MaxConcurrency bounds the number of in-flight calls.
type MaxConcurrency struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
	waiting  atomic.Int64
	observer func(inFlight int64)
}

// Option configures a MaxConcurrency throttle.
type Option func(*MaxConcurrency)

// WithObserver is called with the new in-flight count after every
// acquire and release.
func WithObserver(fn func(inFlight int64)) Option {
	return func(m *MaxConcurrency) { m.observer = fn }
}

// NewMaxConcurrency allows at most n concurrent calls. n must be positive.
func NewMaxConcurrency(n int, opts ...Option) *MaxConcurrency {
	if n <= 0 {
		panic(fmt.Sprintf("throttle: concurrency limit must be positive, got %d", n))
	}
	m := &MaxConcurrency{sem: semaphore.NewWeighted(int64(n)), limit: int64(n)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do implements Throttle.
func (m *MaxConcurrency) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	m.waiting.Add(1)
	err := m.sem.Acquire(ctx, 1)
	m.waiting.Add(-1)
	if err != nil {
		return types.NewCancellationError(err)
	}
	m.observe(m.inFlight.Add(1))
	defer func() {
		m.observe(m.inFlight.Add(-1))
		m.sem.Release(1)
	}()
	return fn(ctx)
}

func (m *MaxConcurrency) observe(n int64) {
	if m.observer != nil {
		m.observer(n)
	}
}

// InFlight reports the number of calls currently admitted.
func (m *MaxConcurrency) InFlight() int64 { return m.inFlight.Load() }

// Waiting reports the number of callers suspended on admission.
func (m *MaxConcurrency) Waiting() int64 { return m.waiting.Load() }

// Limit returns the configured bound.
func (m *MaxConcurrency) Limit() int64 { return m.limit }

// ============================================================
// Rate limit
// ============================================================

// RateLimit admits calls at a token-bucket rate.
type RateLimit struct {
	limiter *rate.Limiter
}

// NewRateLimit allows r calls per second with the given burst.
func NewRateLimit(r float64, burst int) *RateLimit {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimit{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Do implements Throttle.
func (l *RateLimit) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return types.NewCancellationError(ctx.Err())
		}
		// Wait would exceed the deadline.
		return types.NewCancellationError(errors.Join(context.DeadlineExceeded, err))
	}
	return fn(ctx)
}

// ============================================================
// Chain
// ============================================================

type chain []Throttle

// Chain admits a call only after every throttle has admitted it, in order.
func Chain(throttles ...Throttle) Throttle {
	flat := make(chain, 0, len(throttles))
	for _, t := range throttles {
		switch v := t.(type) {
		case nil, unlimited:
		case chain:
			flat = append(flat, v...)
		default:
			flat = append(flat, t)
		}
	}
	switch len(flat) {
	case 0:
		return Unlimited()
	case 1:
		return flat[0]
	}
	return flat
}

func (c chain) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if len(c) == 0 {
		return fn(ctx)
	}
	return c[0].Do(ctx, func(ctx context.Context) error {
		return c[1:].Do(ctx, fn)
	})
}
