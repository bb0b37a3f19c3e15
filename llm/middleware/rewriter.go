package middleware

import (
	"context"
	"fmt"

	llmpkg "github.com/BaSui01/genflow/llm"
	"github.com/BaSui01/genflow/types"
)

// RequestRewriter 请求改写器接口
// 用于在请求发送到上游 API 之前进行参数清理和转换
type RequestRewriter interface {
	// Rewrite 返回改写后的请求，不应修改传入的请求
	Rewrite(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error)

	// Name 返回改写器名称（用于日志和调试）
	Name() string
}

// RewriterFunc 把函数适配为 RequestRewriter
type RewriterFunc struct {
	ID string
	Fn func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error)
}

func (f RewriterFunc) Name() string { return f.ID }

func (f RewriterFunc) Rewrite(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	return f.Fn(ctx, req)
}

// RewriterChain 改写器链，按顺序执行。构造后只读，可并发使用。
type RewriterChain struct {
	rewriters []RequestRewriter
}

// NewRewriterChain 创建改写器链，忽略 nil
func NewRewriterChain(rewriters ...RequestRewriter) *RewriterChain {
	c := &RewriterChain{}
	for _, r := range rewriters {
		if r != nil {
			c.rewriters = append(c.rewriters, r)
		}
	}
	return c
}

// Execute 执行改写器链。任何一个失败则中断，返回 INVALID_REQUEST 错误。
func (c *RewriterChain) Execute(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatRequest, error) {
	if c == nil {
		return req, nil
	}

	var err error
	for _, rewriter := range c.rewriters {
		req, err = rewriter.Rewrite(ctx, req)
		if err != nil {
			if _, ok := types.AsError(err); ok {
				return nil, err
			}
			return nil, types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("rewriter [%s] failed", rewriter.Name())).WithCause(err)
		}
	}
	return req, nil
}

// Names 返回改写器名称（用于调试）
func (c *RewriterChain) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.rewriters))
	for i, r := range c.rewriters {
		out[i] = r.Name()
	}
	return out
}
