// =============================================================================
// 📦 GenFlow 默认配置
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/genflow/internal/httpclient"
	"github.com/BaSui01/genflow/llm/cache"
	"github.com/BaSui01/genflow/llm/pipeline"
	"github.com/BaSui01/genflow/llm/providers/openaicompat"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:              DefaultLogConfig(),
		Telemetry:        DefaultTelemetryConfig(),
		Redis:            DefaultRedisConfig(),
		Database:         DefaultDatabaseConfig(),
		LLM:              DefaultLLMConfig(),
		Pipeline:         pipeline.DefaultConfig(),
		Cache:            DefaultCacheConfig(),
		MetricsNamespace: "genflow",
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() openaicompat.Config {
	return openaicompat.Config{
		ProviderName: "openai",
		HTTP:         httpclient.DefaultConfig(),
	}
}

// DefaultCacheConfig 默认关闭响应缓存
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Config: cache.DefaultConfig()}
}

// DefaultRedisConfig 返回默认 Redis 配置，Addr 为空即不连接
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix:    "genflow:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置，Driver 为空即不启用账本
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:                "localhost",
		Port:                5432,
		User:                "genflow",
		Name:                "genflow",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		Insecure:       true,
		ServiceName:    "genflow",
		SampleRate:     0.1,
		ExportInterval: time.Minute,
	}
}
