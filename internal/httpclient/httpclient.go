package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Config HTTP 客户端配置
type Config struct {
	// Timeout 整个请求（含响应体）的超时，流式客户端应保持为 0
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// ResponseHeaderTimeout 发出请求后等待响应头的时间
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout" env:"RESPONSE_HEADER_TIMEOUT"`

	DialTimeout         time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	MaxIdleConns        int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" env:"MAX_IDLE_CONNS_PER_HOST"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout" env:"IDLE_CONN_TIMEOUT"`

	// InsecureSkipVerify 仅用于本地测试
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// DefaultConfig 返回适合流式调用的默认配置
func DefaultConfig() Config {
	return Config{
		ResponseHeaderTimeout: 60 * time.Second,
		DialTimeout:           30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}

// DefaultTLSConfig returns a hardened TLS configuration.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// NewTransport 按配置构造 Transport，零值字段取 DefaultConfig 的值。
func NewTransport(cfg Config) *http.Transport {
	cfg = withDefaults(cfg)
	tlsCfg := DefaultTLSConfig()
	tlsCfg.InsecureSkipVerify = cfg.InsecureSkipVerify //nolint:gosec // 仅测试配置会打开

	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsCfg,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// New 构造 HTTP 客户端
func New(cfg Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: NewTransport(cfg),
	}
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = d.ResponseHeaderTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = d.DialTimeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = d.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = d.IdleConnTimeout
	}
	return cfg
}
