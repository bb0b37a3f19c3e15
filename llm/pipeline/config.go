package pipeline

import (
	"time"

	"github.com/BaSui01/genflow/llm/circuitbreaker"
	"github.com/BaSui01/genflow/llm/retry"
	"github.com/BaSui01/genflow/llm/streaming"
)

// Config 流水线配置
type Config struct {
	// Name 用于指标标签（throttle / breaker 名称）
	Name string `yaml:"name" env:"NAME"`

	// AttemptTimeout 单次非流式尝试的超时，<=0 不设置
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`

	Retry          RetryConfig          `yaml:"retry" env:"RETRY"`
	Throttle       ThrottleConfig       `yaml:"throttle" env:"THROTTLE"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
	Stream         StreamConfig         `yaml:"stream" env:"STREAM"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       bool          `yaml:"jitter" env:"JITTER"`
}

// ThrottleConfig 限流配置，两项都为 0 表示不限流
type ThrottleConfig struct {
	MaxConcurrency int     `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	RatePerSecond  float64 `yaml:"rate_per_second" env:"RATE_PER_SECOND"`
	Burst          int     `yaml:"burst" env:"BURST"`
}

// CircuitBreakerConfig 熔断配置
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" env:"ENABLED"`
	Threshold        int           `yaml:"threshold" env:"THRESHOLD"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`
}

// StreamConfig 流式读取配置
type StreamConfig struct {
	MaxLineSize  int    `yaml:"max_line_size" env:"MAX_LINE_SIZE"`
	DoneSentinel string `yaml:"done_sentinel" env:"DONE_SENTINEL"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	p := retry.DefaultRetryPolicy()
	cb := circuitbreaker.DefaultConfig()
	return Config{
		Name: "default",
		Retry: RetryConfig{
			MaxAttempts:  p.MaxAttempts,
			InitialDelay: p.InitialDelay,
			MaxDelay:     p.MaxDelay,
			Multiplier:   p.Multiplier,
			Jitter:       p.Jitter,
		},
		Throttle: ThrottleConfig{MaxConcurrency: 8},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			Threshold:        cb.Threshold,
			ResetTimeout:     cb.ResetTimeout,
			HalfOpenMaxCalls: cb.HalfOpenMaxCalls,
		},
		Stream: StreamConfig{
			MaxLineSize:  streaming.DefaultMaxLineSize,
			DoneSentinel: "[DONE]",
		},
	}
}

// Policy 转换为重试策略
func (c RetryConfig) Policy() *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		Jitter:       c.Jitter,
	}
}
