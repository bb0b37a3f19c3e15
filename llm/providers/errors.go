package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/genflow/types"
)

// maxErrorBody 错误响应体最多读取的字节数
const maxErrorBody = 64 << 10

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 *types.Error
func MapHTTPError(status int, msg string, provider string) *types.Error {
	var e *types.Error
	switch status {
	case http.StatusUnauthorized:
		e = types.NewError(types.ErrUnauthorized, msg)
	case http.StatusForbidden:
		e = types.NewError(types.ErrForbidden, msg)
	case http.StatusNotFound:
		e = types.NewError(types.ErrModelNotFound, msg)
	case http.StatusRequestEntityTooLarge:
		e = types.NewError(types.ErrContextTooLong, msg)
	case http.StatusTooManyRequests:
		e = types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case http.StatusBadRequest:
		// 部分服务商用 400 表示额度不足
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "quota"), strings.Contains(lower, "credit"), strings.Contains(lower, "billing"):
			e = types.NewError(types.ErrQuotaExceeded, msg)
		case strings.Contains(lower, "context length"), strings.Contains(lower, "maximum context"):
			e = types.NewError(types.ErrContextTooLong, msg)
		default:
			e = types.NewError(types.ErrInvalidRequest, msg)
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e = types.NewError(types.ErrUpstreamTimeout, msg).WithRetryable(true)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		e = types.NewError(types.ErrServiceUnavailable, msg).WithRetryable(true)
	case 529: // 部分服务商用于模型过载
		e = types.NewError(types.ErrModelOverloaded, msg).WithRetryable(true)
	default:
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(status >= 500)
	}
	return e.WithHTTPStatus(status).WithProvider(provider)
}

// ErrorFromResponse 读取错误响应体并映射为 *types.Error，附带 Retry-After 提示。
// 不负责关闭响应体。
func ErrorFromResponse(resp *http.Response, provider string) *types.Error {
	msg := ReadErrorMessage(resp.Body)
	if msg == "" {
		msg = resp.Status
	}
	e := MapHTTPError(resp.StatusCode, msg, provider)
	if d := RetryAfter(resp.Header, time.Now()); d > 0 {
		e = e.WithRetryAfter(d)
	}
	return e
}

// RetryAfter 解析 retry-after-ms 与 Retry-After（秒数或 HTTP 日期）。
// 无法解析或已过期时返回 0。
func RetryAfter(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After-Ms")); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return strings.TrimSpace(string(data))
}

// TransportError 包装发送请求时的错误。调用方取消时返回 CANCELLED；
// 单次尝试超时返回可重试的 UPSTREAM_TIMEOUT；其余网络错误视为可重试的上游错误。
func TransportError(ctx context.Context, err error, provider string) *types.Error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return types.NewCancellationError(err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.NewError(types.ErrUpstreamTimeout, "attempt timed out").
			WithCause(err).
			WithRetryable(true).
			WithProvider(provider)
	}
	return types.NewError(types.ErrUpstreamError, "request failed").
		WithCause(err).
		WithRetryable(true).
		WithProvider(provider)
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
