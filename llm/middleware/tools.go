package middleware

import (
	"context"
	"fmt"

	llmpkg "github.com/BaSui01/genflow/llm"
	"github.com/BaSui01/genflow/types"
)

// EmptyToolsCleaner 当请求没有工具时清除 ToolChoice。
// OpenAI 不允许在 tools 为空时设置 tool_choice，会返回 400。
type EmptyToolsCleaner struct{}

func NewEmptyToolsCleaner() EmptyToolsCleaner { return EmptyToolsCleaner{} }

func (EmptyToolsCleaner) Name() string { return "empty_tools_cleaner" }

func (EmptyToolsCleaner) Rewrite(_ context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	if req == nil || len(req.Tools) > 0 || req.ToolChoice == "" {
		return req, nil
	}
	out := *req
	out.ToolChoice = ""
	return &out, nil
}

// ToolChoiceValidator 拒绝指向未声明工具的 ToolChoice
type ToolChoiceValidator struct{}

func NewToolChoiceValidator() ToolChoiceValidator { return ToolChoiceValidator{} }

func (ToolChoiceValidator) Name() string { return "tool_choice_validator" }

func (ToolChoiceValidator) Rewrite(_ context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	if req == nil {
		return req, nil
	}
	switch req.ToolChoice {
	case "", "auto", "none", "required":
		return req, nil
	}
	for _, t := range req.Tools {
		if t.Name == req.ToolChoice {
			return req, nil
		}
	}
	return nil, types.NewError(types.ErrInvalidRequest,
		fmt.Sprintf("tool_choice %q does not name a declared tool", req.ToolChoice))
}

// RequireMessages 拒绝没有消息的请求
func RequireMessages() RequestRewriter {
	return RewriterFunc{
		ID: "require_messages",
		Fn: func(_ context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
			if req == nil || len(req.Messages) == 0 {
				return nil, types.NewError(types.ErrInvalidRequest, "request has no messages")
			}
			return req, nil
		},
	}
}

// DefaultChain 返回 Provider 默认使用的改写器链
func DefaultChain() *RewriterChain {
	return NewRewriterChain(RequireMessages(), NewEmptyToolsCleaner(), NewToolChoiceValidator())
}
