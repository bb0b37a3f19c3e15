package providers

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/genflow/llm"
)

// OpenAI 兼容 API 的请求/响应结构。DeepSeek、Qwen、GLM、Grok、Kimi 等
// 兼容 OpenAI Chat Completions 的服务商共用这一套定义。

// OpenAICompatMessage 消息
type OpenAICompatMessage struct {
	Role       string                 `json:"role,omitempty"`
	Content    string                 `json:"content,omitempty"`
	Name       string                 `json:"name,omitempty"`
	ToolCalls  []OpenAICompatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
}

// OpenAICompatToolCall 工具调用。流式增量中 Index 标识所属的调用，
// 后续增量可能只带 Arguments 片段。
type OpenAICompatToolCall struct {
	Index    *int                 `json:"index,omitempty"`
	ID       string               `json:"id,omitempty"`
	Type     string               `json:"type,omitempty"`
	Function OpenAICompatFunction `json:"function"`
}

// OpenAICompatFunction 函数调用，Arguments 在线上是 JSON 字符串
type OpenAICompatFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// OpenAICompatTool 工具定义
type OpenAICompatTool struct {
	Type     string                 `json:"type"`
	Function OpenAICompatToolSchema `json:"function"`
}

type OpenAICompatToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAICompatStreamOptions 要求在最后一个 chunk 中返回 usage
type OpenAICompatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// OpenAICompatRequest 聊天请求
type OpenAICompatRequest struct {
	Model         string                     `json:"model"`
	Messages      []OpenAICompatMessage      `json:"messages"`
	Tools         []OpenAICompatTool         `json:"tools,omitempty"`
	ToolChoice    any                        `json:"tool_choice,omitempty"`
	MaxTokens     int                        `json:"max_tokens,omitempty"`
	Temperature   float32                    `json:"temperature,omitempty"`
	TopP          float32                    `json:"top_p,omitempty"`
	Stop          []string                   `json:"stop,omitempty"`
	User          string                     `json:"user,omitempty"`
	Stream        bool                       `json:"stream,omitempty"`
	StreamOptions *OpenAICompatStreamOptions `json:"stream_options,omitempty"`
}

// OpenAICompatChoice 单个选项。非流式响应用 Message，流式增量用 Delta。
type OpenAICompatChoice struct {
	Index        int                  `json:"index"`
	FinishReason string               `json:"finish_reason,omitempty"`
	Message      OpenAICompatMessage  `json:"message"`
	Delta        *OpenAICompatMessage `json:"delta,omitempty"`
}

// OpenAICompatUsage token 用量
type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatResponse 聊天响应，也是流式 chunk 的结构
type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Object  string               `json:"object,omitempty"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
	Created int64                `json:"created,omitempty"`
}

// OpenAICompatEmbeddingRequest 向量化请求
type OpenAICompatEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
	User       string   `json:"user,omitempty"`
}

// OpenAICompatEmbeddingResponse 向量化响应
type OpenAICompatEmbeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage *OpenAICompatUsage `json:"usage,omitempty"`
}

// ErrorResponse OpenAI 风格的错误响应
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
		Param   string `json:"param"`
	} `json:"error"`
}

// ConvertMessagesToOpenAI 将 llm.Message 切片转换为 OpenAI 兼容格式.
func ConvertMessagesToOpenAI(msgs []llm.Message) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, 0, len(msgs))
	for _, m := range msgs {
		oa := OpenAICompatMessage{
			Role:       string(m.Role),
			Name:       m.Name,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			oa.ToolCalls = append(oa.ToolCalls, OpenAICompatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: OpenAICompatFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, oa)
	}
	return out
}

// ConvertToolsToOpenAI 将 llm.ToolSchema 切片转换为 OpenAI 兼容格式.
func ConvertToolsToOpenAI(tools []llm.ToolSchema) []OpenAICompatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]OpenAICompatTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, OpenAICompatTool{
			Type: "function",
			Function: OpenAICompatToolSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// ConvertToolChoice 将 auto/none/required 原样传递，其他值视为工具名。
func ConvertToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none", "required":
		return choice
	default:
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": choice},
		}
	}
}

// BuildChatRequest 构造 OpenAI 兼容请求体，model 为已解析的模型名。
func BuildChatRequest(req *llm.ChatRequest, model string, stream bool) OpenAICompatRequest {
	body := OpenAICompatRequest{
		Model:       model,
		Messages:    ConvertMessagesToOpenAI(req.Messages),
		Tools:       ConvertToolsToOpenAI(req.Tools),
		ToolChoice:  ConvertToolChoice(req.ToolChoice),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		User:        req.UserID,
	}
	if stream {
		body.Stream = true
		body.StreamOptions = &OpenAICompatStreamOptions{IncludeUsage: true}
	}
	return body
}

func toToolCalls(calls []OpenAICompatToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}

func toUsage(u *OpenAICompatUsage) *llm.ChatUsage {
	if u == nil {
		return nil
	}
	return &llm.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// ToLLMChatResponse 将 OpenAI 兼容的响应转换为 llm.ChatResponse.
func ToLLMChatResponse(oa OpenAICompatResponse, provider string) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(oa.Choices))
	for _, c := range oa.Choices {
		choices = append(choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message: llm.Message{
				Role:      llm.RoleAssistant,
				Content:   c.Message.Content,
				Name:      c.Message.Name,
				ToolCalls: toToolCalls(c.Message.ToolCalls),
			},
		})
	}
	resp := &llm.ChatResponse{
		ID:       oa.ID,
		Provider: provider,
		Model:    oa.Model,
		Choices:  choices,
	}
	if u := toUsage(oa.Usage); u != nil {
		resp.Usage = *u
	}
	if oa.Created != 0 {
		resp.CreatedAt = time.Unix(oa.Created, 0)
	}
	return resp
}

// ToStreamChunk 转换一个流式 chunk。请求从不设置 n，只取第一个 choice；
// 只带 usage 的收尾 chunk 转换为空增量。既无 choice 也无 usage 时 ok 为 false。
func ToStreamChunk(oa OpenAICompatResponse, provider string) (llm.StreamChunk, bool) {
	chunk := llm.StreamChunk{
		ID:       oa.ID,
		Provider: provider,
		Model:    oa.Model,
		Usage:    toUsage(oa.Usage),
	}
	if len(oa.Choices) == 0 {
		return chunk, chunk.Usage != nil
	}

	c := oa.Choices[0]
	chunk.Index = c.Index
	chunk.FinishReason = c.FinishReason
	chunk.Delta = llm.Message{Role: llm.RoleAssistant}
	if c.Delta != nil {
		chunk.Delta.Content = c.Delta.Content
		chunk.Delta.ToolCalls = toToolCalls(c.Delta.ToolCalls)
	}
	return chunk, true
}

// ChooseModel 根据请求和默认值选择模型
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}
