// =============================================================================
// 📦 GenFlow 配置结构
// =============================================================================
// 配置优先级: 默认值 → YAML 文件 → 环境变量（GENFLOW_ 前缀）
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/genflow/llm/cache"
	"github.com/BaSui01/genflow/llm/observability"
	"github.com/BaSui01/genflow/llm/pipeline"
	"github.com/BaSui01/genflow/llm/providers/openaicompat"
)

// Config 是 GenFlow 的完整配置结构
type Config struct {
	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Redis 响应缓存的二级存储，Addr 为空时只用本地缓存
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 用量账本，Driver 为空时不记录
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// LLM 上游 Provider
	LLM openaicompat.Config `yaml:"llm" env:"LLM"`

	// Pipeline 重试、限流、熔断与流式读取
	Pipeline pipeline.Config `yaml:"pipeline" env:"PIPELINE"`

	// Cache 响应缓存
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Pricing 追加或覆盖内置价格表，单位 USD / 1K tokens
	Pricing []observability.ModelPrice `yaml:"pricing"`

	// MetricsNamespace Prometheus 指标前缀
	MetricsNamespace string `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
}

// CacheConfig 响应缓存配置
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	cache.Config `yaml:",inline"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite；为空表示不启用
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径或 DSN
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 健康检查间隔，<=0 不启动
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 账本保留时长，<=0 永久保留
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文连接
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 部署环境，写入 deployment.environment 资源属性
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 指标导出间隔
	ExportInterval time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL"`
}

// =============================================================================
// 🔍 校验
// =============================================================================

// Validate 验证配置，返回所有问题
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	if c.LLM.ProviderName == "" {
		errs = append(errs, "llm.name is required")
	}

	p := c.Pipeline
	if p.Retry.MaxAttempts < 1 {
		errs = append(errs, "pipeline.retry.max_attempts must be at least 1")
	}
	if p.Retry.Multiplier != 0 && p.Retry.Multiplier <= 1 {
		errs = append(errs, "pipeline.retry.multiplier must be greater than 1")
	}
	if p.Retry.MaxDelay > 0 && p.Retry.InitialDelay > p.Retry.MaxDelay {
		errs = append(errs, "pipeline.retry.initial_delay exceeds max_delay")
	}
	if p.Throttle.MaxConcurrency < 0 || p.Throttle.RatePerSecond < 0 {
		errs = append(errs, "pipeline.throttle values must not be negative")
	}
	if p.CircuitBreaker.Enabled && p.CircuitBreaker.Threshold < 1 {
		errs = append(errs, "pipeline.circuit_breaker.threshold must be at least 1")
	}

	if c.Telemetry.Enabled && (c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1) {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}
	switch c.Database.Driver {
	case "", "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	for _, price := range c.Pricing {
		if price.Model == "" || price.PriceInput < 0 || price.PriceOutput < 0 {
			errs = append(errs, fmt.Sprintf("invalid pricing entry for %q", price.Model))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation errors: " + strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
