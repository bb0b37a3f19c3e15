package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	icache "github.com/BaSui01/genflow/internal/cache"
	"github.com/BaSui01/genflow/llm"
)

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *icache.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := icache.NewManager(icache.Config{Addr: mr.Addr(), KeyPrefix: "t:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestKeyStrategies(t *testing.T) {
	req := &llm.ChatRequest{
		TraceID:  "trace-1",
		TenantID: "tenant1",
		Model:    "gpt-4o-mini",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
	}
	same := *req
	same.TraceID = "trace-2"
	same.Metadata = map[string]string{"k": "v"}
	other := *req
	other.Messages = []llm.Message{{Role: llm.RoleUser, Content: "Bye"}}

	for _, s := range []KeyStrategy{HashKeyStrategy{}, ScopedKeyStrategy{}} {
		t.Run(s.Name(), func(t *testing.T) {
			k := s.GenerateKey(req)
			assert.Contains(t, k, "llm:cache:")
			assert.Equal(t, k, s.GenerateKey(&same), "trace id and metadata must not affect the key")
			assert.NotEqual(t, k, s.GenerateKey(&other))
		})
	}

	assert.Contains(t, ScopedKeyStrategy{}.GenerateKey(req), ":tenant1:gpt-4o-mini:")
	assert.Equal(t, "scoped", NewKeyStrategy("scoped").Name())
	assert.Equal(t, "hash", NewKeyStrategy("whatever").Name())

	k1, err := Key("embed", []string{"a"})
	require.NoError(t, err)
	k2, _ := Key("embed", []string{"b"})
	assert.NotEqual(t, k1, k2)
	_, err = Key("embed", make(chan int))
	assert.Error(t, err)
}

func TestIsCacheable(t *testing.T) {
	assert.False(t, IsCacheable(nil))
	assert.True(t, IsCacheable(&llm.ChatRequest{Model: "m"}))
	assert.False(t, IsCacheable(&llm.ChatRequest{Tools: []llm.ToolSchema{{Name: "search"}}}))
}

func TestResponseCache_TwoLevels(t *testing.T) {
	mr, store := newRedisStore(t)
	ctx := context.Background()

	c := NewResponseCache(store, DefaultConfig(), zaptest.NewLogger(t), WithMissDetector(icache.IsCacheMiss))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", []byte("v"))
	assert.True(t, mr.Exists("t:k"))
	assert.Equal(t, time.Hour, mr.TTL("t:k"))

	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	// 另一实例只能从 redis 读到，并回填本地
	c2 := NewResponseCache(store, DefaultConfig(), nil, WithMissDetector(icache.IsCacheMiss))
	_, ok = c2.Get(ctx, "k")
	require.True(t, ok)
	_, ok = c2.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, Stats{LocalHits: 1, StoreHits: 1}, c2.Stats())

	require.NoError(t, c.Delete(ctx, "k"))
	assert.False(t, mr.Exists("t:k"))
	assert.Equal(t, int64(1), c.Stats().Misses)
}

type failingStore struct{}

func (failingStore) GetBytes(context.Context, string) ([]byte, error) {
	return nil, errors.New("redis down")
}
func (failingStore) SetBytes(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis down")
}
func (failingStore) Delete(context.Context, ...string) error { return nil }

func TestResponseCache_StoreFailureIsAMiss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableLocal = false
	c := NewResponseCache(failingStore{}, cfg, zaptest.NewLogger(t))

	c.Set(context.Background(), "k", []byte("v"))
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestResponseCache_JSON(t *testing.T) {
	c := NewResponseCache(nil, DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	resp := llm.ChatResponse{Model: "gpt-4o", Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: "hi"}}}}
	SetJSON(ctx, c, "r", resp)

	got, ok := GetJSON[llm.ChatResponse](ctx, c, "r")
	require.True(t, ok)
	assert.Equal(t, "hi", got.FirstContent())

	c.Set(ctx, "bad", []byte("{not json"))
	_, ok = GetJSON[llm.ChatResponse](ctx, c, "bad")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "bad")
	assert.False(t, ok, "undecodable entries are dropped")
}
