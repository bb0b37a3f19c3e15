package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/genflow/llm"
)

// KeyStrategy 缓存键生成策略
type KeyStrategy interface {
	GenerateKey(req *llm.ChatRequest) string
	// Name 返回策略名称（用于日志和调试）
	Name() string
}

// NewKeyStrategy 按名称选择策略，未知名称回落到 hash。
func NewKeyStrategy(name string) KeyStrategy {
	if name == "scoped" {
		return ScopedKeyStrategy{}
	}
	return HashKeyStrategy{}
}

// cacheable 只保留影响输出的字段，TraceID、Metadata 等不参与键计算。
type cacheable struct {
	Model       string           `json:"model"`
	Messages    []llm.Message    `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	TopP        float32          `json:"top_p,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	Tools       []llm.ToolSchema `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
}

func digest(req *llm.ChatRequest) string {
	data, err := json.Marshal(cacheable{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	})
	if err != nil {
		data = []byte(fmt.Sprintf("%v", req))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// HashKeyStrategy 整个请求取 sha256
type HashKeyStrategy struct{}

func (HashKeyStrategy) Name() string { return "hash" }

func (HashKeyStrategy) GenerateKey(req *llm.ChatRequest) string {
	return "llm:cache:" + digest(req)
}

// ScopedKeyStrategy 格式 llm:cache:{tenant}:{model}:{hash}，
// 便于按租户或模型前缀批量失效。
type ScopedKeyStrategy struct{}

func (ScopedKeyStrategy) Name() string { return "scoped" }

func (ScopedKeyStrategy) GenerateKey(req *llm.ChatRequest) string {
	tenant := req.TenantID
	if tenant == "" {
		tenant = "_"
	}
	return fmt.Sprintf("llm:cache:%s:%s:%s", tenant, req.Model, digest(req))
}

// Key 由任意可序列化的值生成键，用于非聊天请求（如 embedding）。
func Key(namespace string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return "llm:" + namespace + ":" + hex.EncodeToString(sum[:16]), nil
}
