package ctxkeys

import (
	"context"

	"github.com/google/uuid"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey  contextKey = "trace_id"
	callIDKey   contextKey = "call_id"
	attemptKey  contextKey = "attempt"
	providerKey contextKey = "provider"
	llmModelKey contextKey = "llm_model"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithCallID 设置逻辑调用 ID（同一调用的所有重试共享）
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey, callID)
}

// EnsureCallID 若 ctx 中没有调用 ID，则生成一个新的 UUID
func EnsureCallID(ctx context.Context) (context.Context, string) {
	if id, ok := CallID(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCallID(ctx, id), id
}

// CallID 获取调用 ID
func CallID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(callIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithAttempt 设置当前尝试序号（从 1 开始）
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// Attempt 获取当前尝试序号，未设置时返回 0
func Attempt(ctx context.Context) int {
	v, _ := ctx.Value(attemptKey).(int)
	return v
}

// WithProvider 设置 provider 名称
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, providerKey, provider)
}

// Provider 获取 provider 名称
func Provider(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(providerKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithLLMModel 设置 LLM 模型（用于覆盖默认模型）
func WithLLMModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, llmModelKey, model)
}

// LLMModel 获取 LLM 模型
func LLMModel(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(llmModelKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
