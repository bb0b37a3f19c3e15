package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/genflow/llm/schema"
	"github.com/BaSui01/genflow/llm/streaming"
	"github.com/BaSui01/genflow/types"
)

// Opener 打开一个 SSE 响应体。返回前应检查 HTTP 状态，
// 失败时返回带 Retryable 标记的 *types.Error 以便重试。
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Stream 打开流并返回已校验事件的队列。
//
// 打开阶段走 breaker → retry → throttle，限流槽位在连接建立后即释放；
// 连接建立后的读取错误不会重试，而是在已缓冲事件之后作为队列的终止错误出现。
// 响应体归读取协程所有，流结束（EOF、结束标记、解码错误或取消）时关闭；
// 取消 ctx 还会以 CANCELLED 终止队列。
func Stream[T any](ctx context.Context, e *Executor, op string, open Opener, s schema.Schema[T], opts ...streaming.ReaderOption) (*streaming.Queue[T], error) {
	ctx, st, end := e.begin(ctx, op, true)

	var body io.ReadCloser
	err := e.run(ctx, st, 0, func(ctx context.Context) error {
		b, err := open(ctx)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		end(err)
		e.finish(st, err)
		e.recordStreamEnd(op, err)
		return nil, err
	}

	readerOpts := []streaming.ReaderOption{streaming.WithLogger(e.logger)}
	if e.cfg.Stream.MaxLineSize > 0 {
		readerOpts = append(readerOpts, streaming.WithMaxLineSize(e.cfg.Stream.MaxLineSize))
	}
	if e.cfg.Stream.DoneSentinel != "" {
		readerOpts = append(readerOpts, streaming.WithDoneSentinel(e.cfg.Stream.DoneSentinel))
	}
	readerOpts = append(readerOpts, opts...)
	readerOpts = append(readerOpts, streaming.WithErrorHandler(func(err error) {
		if types.IsErrorCode(err, types.ErrValidation) {
			e.recordStreamEvent(ctx, op, "skipped")
		}
	}))

	counted := schema.Func[T](func(raw json.RawMessage) (T, error) {
		v, err := s.Validate(raw)
		if err == nil {
			e.recordStreamEvent(ctx, op, "ok")
		}
		return v, err
	})

	q := streaming.ReadEvents(ctx, body, counted, readerOpts...)

	go func() {
		<-q.Done()
		qerr := q.Err()
		end(qerr)
		e.finish(st, qerr)
		e.recordStreamEnd(op, qerr)
	}()
	return q, nil
}

func (e *Executor) recordStreamEvent(ctx context.Context, op, result string) {
	if e.collector != nil {
		e.collector.RecordStreamEvent(op, result)
	}
	if e.telemetry != nil {
		e.telemetry.RecordStreamEvent(ctx, op, result)
	}
}

func (e *Executor) recordStreamEnd(op string, err error) {
	reason := "completed"
	switch {
	case err == nil:
	case types.IsCancellation(err):
		reason = "cancelled"
	case errors.Is(err, io.ErrUnexpectedEOF):
		reason = "truncated"
	default:
		reason = "error"
	}
	if e.collector != nil {
		e.collector.RecordStreamEnd(op, reason)
	}
	if reason != "completed" && reason != "cancelled" {
		e.logger.Warn("stream ended abnormally", zap.String("operation", op), zap.String("reason", reason), zap.Error(err))
	}
}
