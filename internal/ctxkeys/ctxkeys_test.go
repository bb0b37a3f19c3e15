package ctxkeys

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCallID(t *testing.T) {
	ctx := context.Background()
	_, ok := CallID(ctx)
	assert.False(t, ok)

	ctx, id := EnsureCallID(ctx)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	ctx2, id2 := EnsureCallID(ctx)
	assert.Equal(t, id, id2, "已有调用 ID 时不应重新生成")
	assert.Equal(t, ctx, ctx2)
}

func TestAttemptAndProvider(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 0, Attempt(ctx))

	ctx = WithAttempt(WithProvider(ctx, "openai"), 2)
	assert.Equal(t, 2, Attempt(ctx))
	p, ok := Provider(ctx)
	assert.True(t, ok)
	assert.Equal(t, "openai", p)

	ctx = WithTraceID(WithLLMModel(ctx, "gpt-4o"), "t-1")
	m, _ := LLMModel(ctx)
	tr, _ := TraceID(ctx)
	assert.Equal(t, "gpt-4o", m)
	assert.Equal(t, "t-1", tr)
}
