package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/genflow/llm/schema"
	"github.com/BaSui01/genflow/types"
)

// ErrorHandler receives per-frame validation failures and the terminal
// stream error.
type ErrorHandler func(error)

type readerOptions struct {
	onError     ErrorHandler
	logger      *zap.Logger
	maxLineSize int
	sentinel    string
	events      map[string]struct{}
}

// ReaderOption configures ReadEvents.
type ReaderOption func(*readerOptions)

// WithErrorHandler adds an error callback. Handlers run in the order they
// were given. Without one, validation failures are dropped silently.
func WithErrorHandler(fn ErrorHandler) ReaderOption {
	return func(o *readerOptions) {
		if fn == nil {
			return
		}
		prev := o.onError
		if prev == nil {
			o.onError = fn
			return
		}
		o.onError = func(err error) {
			prev(err)
			fn(err)
		}
	}
}

// WithLogger sets the logger used for stream lifecycle messages.
func WithLogger(logger *zap.Logger) ReaderOption {
	return func(o *readerOptions) { o.logger = logger }
}

// WithMaxLineSize bounds a single SSE line.
func WithMaxLineSize(n int) ReaderOption {
	return func(o *readerOptions) { o.maxLineSize = n }
}

// WithDoneSentinel ends the stream cleanly when a frame's data equals s,
// e.g. "[DONE]".
func WithDoneSentinel(s string) ReaderOption {
	return func(o *readerOptions) { o.sentinel = s }
}

// WithEventFilter restricts validation to frames whose event name is one of
// names. Frames without an event name are treated as "message".
func WithEventFilter(names ...string) ReaderOption {
	return func(o *readerOptions) {
		if len(names) == 0 {
			return
		}
		o.events = make(map[string]struct{}, len(names))
		for _, n := range names {
			o.events[n] = struct{}{}
		}
	}
}

// ReadEvents decodes body as SSE in a background goroutine and returns a
// queue of the frames that validate against s, in arrival order.
//
// A frame whose data is not JSON or fails s is reported to the error
// handler and skipped. A decode or read failure is reported and then
// closes the queue with that error once the buffered events are consumed.
// When body is an io.Closer the reader owns it and closes it exactly once,
// on whichever ending comes first: EOF, the done sentinel, a decode or read
// failure, or cancellation. Cancelling ctx also fails the queue with a
// CANCELLED error.
func ReadEvents[T any](ctx context.Context, body io.Reader, s schema.Schema[T], opts ...ReaderOption) *Queue[T] {
	o := &readerOptions{maxLineSize: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	q := NewQueue[T]()
	r := &eventReader[T]{
		body:   body,
		schema: s,
		opts:   o,
		queue:  q,
		logger: o.logger.With(zap.String("component", "sse_reader")),
	}
	go r.run(ctx)
	return q
}

type eventReader[T any] struct {
	body   io.Reader
	schema schema.Schema[T]
	opts   *readerOptions
	queue  *Queue[T]
	logger *zap.Logger
}

func (r *eventReader[T]) run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		r.queue.Fail(types.NewCancellationError(context.Cause(ctx)))
		r.closeBody()
	})
	// 读循环结束后由 reader 关闭 body；取消回调已执行时 body 已被它关闭
	defer func() {
		if stop() {
			r.closeBody()
		}
	}()

	dec := NewDecoder(r.body, WithDecoderMaxLineSize(r.opts.maxLineSize))
	var delivered, dropped int
	for {
		frame, err := dec.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				// queue already failed by the AfterFunc
			case errors.Is(err, io.EOF):
				r.queue.Close()
			default:
				r.logger.Warn("stream terminated",
					zap.Int("delivered", delivered),
					zap.Int("dropped", dropped),
					zap.Error(err))
				r.report(err)
				r.queue.CloseWithError(err)
			}
			return
		}

		if !r.accepts(frame) {
			continue
		}
		if r.opts.sentinel != "" && frame.Data == r.opts.sentinel {
			r.queue.Close()
			return
		}

		value, err := r.validate(frame)
		if err != nil {
			dropped++
			r.logger.Debug("event dropped",
				zap.String("event", frame.Event),
				zap.String("id", frame.ID),
				zap.Error(err))
			r.report(err)
			continue
		}
		if err := r.queue.Push(value); err != nil {
			// Closed from outside, most likely by cancellation.
			return
		}
		delivered++
	}
}

func (r *eventReader[T]) closeBody() {
	if c, ok := r.body.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Debug("close stream body failed", zap.Error(err))
		}
	}
}

func (r *eventReader[T]) accepts(frame Frame) bool {
	if r.opts.events == nil {
		return true
	}
	name := frame.Event
	if name == "" {
		name = "message"
	}
	_, ok := r.opts.events[name]
	return ok
}

func (r *eventReader[T]) validate(frame Frame) (T, error) {
	var zero T
	raw := json.RawMessage(frame.Data)
	if !json.Valid(raw) {
		return zero, types.NewValidationError("event data is not valid JSON", nil)
	}
	v, err := r.schema.Validate(raw)
	if err != nil {
		if types.IsErrorCode(err, types.ErrValidation) {
			return zero, err
		}
		return zero, types.NewValidationError("event failed schema validation", err)
	}
	return v, nil
}

func (r *eventReader[T]) report(err error) {
	if r.opts.onError != nil {
		r.opts.onError(err)
	}
}
