// 配置文件热重载。
//
// 轮询文件修改时间与内容摘要，变更后重新走 Loader 的完整流程
// （默认值 → 文件 → 环境变量 → 校验），校验失败时保留旧配置。
package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadCallback 在新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader 监听配置文件并在内容变化时重载
type Reloader struct {
	loader   *Loader
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	current   *Config
	checksum  [sha256.Size]byte
	modTime   time.Time
	callbacks []ReloadCallback

	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// ReloaderOption 配置 Reloader
type ReloaderOption func(*Reloader)

// WithPollInterval 设置轮询间隔，默认 1s
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReloadLogger 设置日志
func WithReloadLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReloader 以 current 为初始配置创建 Reloader，loader 必须设置了 ConfigPath。
func NewReloader(loader *Loader, current *Config, opts ...ReloaderOption) (*Reloader, error) {
	if loader == nil || loader.ConfigPath() == "" {
		return nil, fmt.Errorf("reloader requires a loader with a config path")
	}
	r := &Reloader{
		loader:   loader,
		interval: time.Second,
		logger:   zap.NewNop(),
		current:  current,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))

	if data, err := os.ReadFile(loader.ConfigPath()); err == nil {
		r.checksum = sha256.Sum256(data)
	}
	if info, err := os.Stat(loader.ConfigPath()); err == nil {
		r.modTime = info.ModTime()
	}
	return r, nil
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Start 启动后台轮询，ctx 取消或 Stop 时退出。
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reloader already running")
	}
	r.running = true
	r.stop = make(chan struct{})

	r.wg.Add(1)
	go r.pollLoop(ctx, r.stop)

	r.logger.Info("config reloader started",
		zap.String("path", r.loader.ConfigPath()),
		zap.Duration("interval", r.interval))
	return nil
}

// Stop 停止轮询并等待后台 goroutine 退出。可重复调用。
func (r *Reloader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Reloader) pollLoop(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.Check(); err != nil {
				r.logger.Warn("config reload failed, keeping previous config", zap.Error(err))
			}
		}
	}
}

// Check 检查一次文件，内容有变化时重载。返回是否应用了新配置。
func (r *Reloader) Check() (bool, error) {
	path := r.loader.ConfigPath()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	r.mu.RLock()
	unchanged := info.ModTime().Equal(r.modTime)
	r.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)

	r.mu.Lock()
	r.modTime = info.ModTime()
	if sum == r.checksum {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	next, err := r.loader.Load()
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	r.checksum = sum
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.String("path", path))
	for _, cb := range callbacks {
		r.notify(cb, prev, next)
	}
	return true, nil
}

// notify 隔离回调中的 panic，避免拖垮轮询 goroutine
func (r *Reloader) notify(cb ReloadCallback, prev, next *Config) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("config reload callback panicked", zap.Any("panic", rec))
		}
	}()
	cb(prev, next)
}
