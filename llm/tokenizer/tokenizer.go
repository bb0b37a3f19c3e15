package tokenizer

import (
	"fmt"
	"strings"
	"sync"
)

// Tokenizer 统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Message 轻量消息结构，避免与 llm 包循环依赖。
type Message struct {
	Role    string
	Content string
}

// 每条消息与整段对话的固定开销，tiktoken 与估算器共用。
const (
	perMessageOverhead = 4
	conversationEnd    = 3
)

var (
	registry   = make(map[string]Tokenizer)
	registryMu sync.RWMutex
)

// RegisterTokenizer 为给定的模型名称注册分词器.
func RegisterTokenizer(model string, t Tokenizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[model] = t
}

// GetTokenizer 返回为模型注册的分词器。精确匹配优先，
// 否则取最长的前缀匹配（"gpt-4o-mini-2024" 命中 "gpt-4o-mini" 而不是 "gpt-4o"）。
func GetTokenizer(model string) (Tokenizer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if t, ok := registry[model]; ok {
		return t, nil
	}

	var (
		best    Tokenizer
		bestLen int
	)
	for prefix, t := range registry {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = t, len(prefix)
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// GetTokenizerOrEstimator 未注册时回落到估算器。
func GetTokenizerOrEstimator(model string) Tokenizer {
	t, err := GetTokenizer(model)
	if err != nil {
		return NewEstimatorTokenizer(model, 0)
	}
	return t
}

// Count 计数出错（例如 tiktoken 词表加载失败）时回落到估算器。
func Count(model, text string) int {
	if n, err := GetTokenizerOrEstimator(model).CountTokens(text); err == nil {
		return n
	}
	n, _ := NewEstimatorTokenizer(model, 0).CountTokens(text)
	return n
}

// CountMessages 同 Count，作用于消息列表。
func CountMessages(model string, messages []Message) int {
	if n, err := GetTokenizerOrEstimator(model).CountMessages(messages); err == nil {
		return n
	}
	n, _ := NewEstimatorTokenizer(model, 0).CountMessages(messages)
	return n
}
