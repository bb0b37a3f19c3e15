package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/genflow/llm"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// Store 二级存储，internal/cache.Manager 满足该接口。
// 未命中时返回的错误必须能被 IsMiss 识别。
type Store interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Config 响应缓存配置
type Config struct {
	LocalMaxSize int           `yaml:"local_max_size" json:"local_max_size" env:"LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `yaml:"local_ttl" json:"local_ttl" env:"LOCAL_TTL"`
	StoreTTL     time.Duration `yaml:"store_ttl" json:"store_ttl" env:"STORE_TTL"`
	EnableLocal  bool          `yaml:"enable_local" json:"enable_local" env:"ENABLE_LOCAL"`
	KeyStrategy  string        `yaml:"key_strategy" json:"key_strategy" env:"KEY_STRATEGY"` // hash | scoped
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		StoreTTL:     time.Hour,
		EnableLocal:  true,
		KeyStrategy:  "hash",
	}
}

// Stats 命中统计
type Stats struct {
	LocalHits int64 `json:"local_hits"`
	StoreHits int64 `json:"store_hits"`
	Misses    int64 `json:"misses"`
}

// ResponseCache 两级响应缓存：本地 LRU 为 L1，Store 为 L2，L2 命中回填 L1。
// 缓存读写失败只记日志，不影响调用本身。
type ResponseCache struct {
	local    *LRUCache[[]byte]
	store    Store
	isMiss   func(error) bool
	config   Config
	strategy KeyStrategy
	logger   *zap.Logger

	localHits atomic.Int64
	storeHits atomic.Int64
	misses    atomic.Int64
}

// Option 配置 ResponseCache
type Option func(*ResponseCache)

// WithMissDetector 指定如何识别 Store 的未命中错误，默认 errors.Is(err, ErrCacheMiss)。
func WithMissDetector(fn func(error) bool) Option {
	return func(c *ResponseCache) { c.isMiss = fn }
}

// NewResponseCache store 可为 nil（只用本地缓存）。
func NewResponseCache(store Store, config Config, logger *zap.Logger, opts ...Option) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ResponseCache{
		store:    store,
		config:   config,
		strategy: NewKeyStrategy(config.KeyStrategy),
		logger:   logger.With(zap.String("component", "response_cache")),
		isMiss:   func(err error) bool { return errors.Is(err, ErrCacheMiss) },
	}
	if config.EnableLocal {
		c.local = NewLRUCache[[]byte](config.LocalMaxSize, config.LocalTTL)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Debug("response cache initialized",
		zap.String("key_strategy", c.strategy.Name()),
		zap.Bool("local", c.local != nil),
		zap.Bool("store", store != nil))
	return c
}

// KeyFor 生成聊天请求的缓存键
func (c *ResponseCache) KeyFor(req *llm.ChatRequest) string {
	return c.strategy.GenerateKey(req)
}

// IsCacheable 带工具的请求可能触发工具调用，缓存会跳过副作用，所以不缓存。
func IsCacheable(req *llm.ChatRequest) bool {
	return req != nil && len(req.Tools) == 0
}

// Get 读取原始字节
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.local != nil {
		if v, ok := c.local.Get(key); ok {
			c.localHits.Add(1)
			return v, true
		}
	}
	if c.store != nil {
		v, err := c.store.GetBytes(ctx, key)
		switch {
		case err == nil:
			if c.local != nil {
				c.local.Set(key, v)
			}
			c.storeHits.Add(1)
			return v, true
		case !c.isMiss(err):
			c.logger.Warn("cache store get failed", zap.String("key", key), zap.Error(err))
		}
	}
	c.misses.Add(1)
	return nil, false
}

// Set 写入原始字节
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte) {
	if c.local != nil {
		c.local.Set(key, value)
	}
	if c.store != nil {
		if err := c.store.SetBytes(ctx, key, value, c.config.StoreTTL); err != nil {
			c.logger.Warn("cache store set failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Delete 两级同时删除
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Delete(key)
	}
	if c.store != nil {
		return c.store.Delete(ctx, key)
	}
	return nil
}

// Stats 返回命中统计
func (c *ResponseCache) Stats() Stats {
	return Stats{
		LocalHits: c.localHits.Load(),
		StoreHits: c.storeHits.Load(),
		Misses:    c.misses.Load(),
	}
}

// GetJSON 读取并反序列化，解码失败按未命中处理。
func GetJSON[T any](ctx context.Context, c *ResponseCache, key string) (T, bool) {
	var out T
	data, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.Delete(ctx, key)
		return out, false
	}
	return out, true
}

// SetJSON 序列化后写入
func SetJSON[T any](ctx context.Context, c *ResponseCache, key string, v T) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.Set(ctx, key, data)
}
