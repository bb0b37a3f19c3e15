package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/genflow/internal/ctxkeys"
	"github.com/BaSui01/genflow/llm/observability"
)

// Usage 一次调用的用量
type Usage struct {
	Operation        string
	Provider         string
	Model            string
	TenantID         string
	PromptTokens     int
	CompletionTokens int
	Estimated        bool
	Cached           bool
	Attempts         int
	Latency          time.Duration
	Err              error
}

// RecordUsage 核算成本并写入各观测后端，返回本次成本（USD）。
// 缓存命中不计费。账本写入失败只记日志。
func (e *Executor) RecordUsage(ctx context.Context, u Usage) float64 {
	var cost float64
	if !u.Cached {
		cost = e.costs.Track(u.Provider, u.Model, u.PromptTokens, u.CompletionTokens, u.Estimated)
	}
	status := observability.Status(u.Err)

	if e.collector != nil {
		e.collector.RecordLLMRequest(u.Provider, u.Model, status, u.Latency, u.PromptTokens, u.CompletionTokens, cost)
	}
	if e.telemetry != nil {
		e.telemetry.RecordUsage(ctx, observability.CallAttrs{
			Operation: u.Operation,
			Provider:  u.Provider,
			Model:     u.Model,
		}, u.PromptTokens, u.CompletionTokens, cost)
	}

	if e.ledger != nil {
		callID, _ := ctxkeys.CallID(ctx)
		traceID, _ := ctxkeys.TraceID(ctx)
		rec := &observability.UsageRecord{
			CallID:           callID,
			TraceID:          traceID,
			TenantID:         u.TenantID,
			Operation:        u.Operation,
			Provider:         u.Provider,
			Model:            u.Model,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			Cost:             cost,
			Estimated:        u.Estimated,
			Cached:           u.Cached,
			Status:           status,
			Attempts:         u.Attempts,
			LatencyMs:        u.Latency.Milliseconds(),
		}
		// 流结束时调用方的 ctx 往往已取消，账本写入不应随之失败
		if err := e.ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
			e.logger.Warn("usage ledger write failed", zap.Error(err))
		}
	}
	return cost
}
