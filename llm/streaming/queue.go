package streaming

import (
	"context"
	"io"
	"iter"
	"sync"

	"github.com/BaSui01/genflow/types"
)

type queueState int

const (
	queueOpen queueState = iota
	queueClosed
	queueFailed
)

// Queue is an order-preserving, closeable FIFO consumed as a single
// forward-only sequence. Producers may push concurrently; Next is
// intended for one logical consumer.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	state    queueState
	err      error
	reported bool

	// notify carries at most one pending wake-up per push.
	notify chan struct{}
	// done is closed once the queue reaches a terminal state.
	done chan struct{}
}

// NewQueue creates an open, empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends item to the tail. It fails with a QUEUE_CLOSED error once
// the queue has been closed in any way.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.state != queueOpen {
		q.mu.Unlock()
		return types.NewQueueClosedError()
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the end of the sequence. Items already queued are still
// delivered. Calling Close on a terminated queue is a no-op.
func (q *Queue[T]) Close() {
	q.terminate(queueClosed, nil, false)
}

// Fail closes the queue immediately with err. Undelivered items are
// discarded and the next read returns err.
func (q *Queue[T]) Fail(err error) {
	q.terminate(queueFailed, err, true)
}

// CloseWithError closes the queue with err after the buffered items have
// been consumed.
func (q *Queue[T]) CloseWithError(err error) {
	q.terminate(queueFailed, err, false)
}

func (q *Queue[T]) terminate(state queueState, err error, discard bool) {
	if state == queueFailed && err == nil {
		state = queueClosed
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != queueOpen {
		return
	}
	q.state = state
	q.err = err
	if discard {
		q.items = nil
	}
	close(q.done)
}

// Next returns the next item. It blocks while the queue is open and empty.
// At the end of the sequence it returns io.EOF; after an error close the
// error is returned exactly once and io.EOF afterwards. If ctx is done
// first, a CANCELLED error is returned and the queue is left untouched.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		switch q.state {
		case queueClosed:
			q.mu.Unlock()
			return zero, io.EOF
		case queueFailed:
			if q.reported {
				q.mu.Unlock()
				return zero, io.EOF
			}
			q.reported = true
			err := q.err
			q.mu.Unlock()
			return zero, err
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return zero, types.NewCancellationError(ctx.Err())
		}
	}
}

// All ranges over the remaining items. Iteration stops after the first
// non-nil error, which is yielded with the zero value.
func (q *Queue[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, err := q.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the queue into a slice. The returned error is the
// terminal error, if any; items received before it are returned too.
func (q *Queue[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for item, err := range q.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Done is closed once the queue is closed or failed.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Err returns the error the queue was closed with. It is nil while the
// queue is open and after a normal Close.
func (q *Queue[T]) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}
