package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/genflow/llm/streaming"
	"github.com/BaSui01/genflow/types"
)

// 错误类型直接复用 types 包，便于跨层 errors.As 判断。
type (
	Error     = types.Error
	ErrorCode = types.ErrorCode
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // 工具返回时标识对应调用
}

type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

type ChatRequest struct {
	TraceID     string            `json:"trace_id,omitempty"`
	TenantID    string            `json:"tenant_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Tools       []ToolSchema      `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"` // 以 USD 计
	Estimated        bool    `json:"estimated,omitempty"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
	Cached    bool         `json:"cached,omitempty"`
}

// FirstContent 返回第一个 choice 的文本，没有 choice 时为空串。
func (r *ChatResponse) FirstContent() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// StreamChunk 流式增量。错误不放在 chunk 里，由队列的终止错误携带。
type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Index        int        `json:"index,omitempty"`
	Delta        Message    `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"` // 最终 chunk 可带 usage
}

type EmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
	User       string   `json:"user,omitempty"`
}

type Embedding struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

type EmbeddingResponse struct {
	Provider   string      `json:"provider,omitempty"`
	Model      string      `json:"model"`
	Embeddings []Embedding `json:"embeddings"`
	Usage      ChatUsage   `json:"usage,omitempty"`
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// Provider 定义了统一的 LLM 适配接口。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream 发起流式聊天请求。连接建立成功后返回队列，
	// 之后的读取错误、取消都体现为队列的终止错误。
	Stream(ctx context.Context, req *ChatRequest) (*streaming.Queue[StreamChunk], error)

	// HealthCheck 执行轻量级健康检查
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// Embedder 由支持向量化的 Provider 实现。
type Embedder interface {
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
}

// CollectStream 读完队列并把增量拼接成一个完整响应。
// 队列以错误终止时返回已拼接的部分与该错误。
func CollectStream(ctx context.Context, q *streaming.Queue[StreamChunk]) (*ChatResponse, error) {
	resp := &ChatResponse{CreatedAt: time.Now()}
	var (
		content []byte
		finish  string
		tools   []ToolCall
	)
	for chunk, err := range q.All(ctx) {
		if err != nil {
			resp.Choices = []ChatChoice{{Message: Message{Role: RoleAssistant, Content: string(content), ToolCalls: tools}, FinishReason: finish}}
			return resp, err
		}
		if resp.ID == "" {
			resp.ID = chunk.ID
		}
		if chunk.Provider != "" {
			resp.Provider = chunk.Provider
		}
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		content = append(content, chunk.Delta.Content...)
		tools = mergeToolCalls(tools, chunk.Delta.ToolCalls)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
	}
	resp.Choices = []ChatChoice{{Message: Message{Role: RoleAssistant, Content: string(content), ToolCalls: tools}, FinishReason: finish}}
	return resp, nil
}

// mergeToolCalls 合并流式工具调用增量：带 ID 的增量开启新调用，
// 不带 ID 的增量把名称与参数片段追加到最后一个调用上。
func mergeToolCalls(calls []ToolCall, deltas []ToolCall) []ToolCall {
	for _, d := range deltas {
		if d.ID == "" && len(calls) > 0 {
			last := &calls[len(calls)-1]
			last.Name += d.Name
			last.Arguments = append(last.Arguments, d.Arguments...)
			continue
		}
		d.Arguments = append(json.RawMessage(nil), d.Arguments...)
		calls = append(calls, d)
	}
	return calls
}
