package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// rewrite 写入新内容并推进修改时间，避免文件系统时间精度导致漏检
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
}

func newTestReloader(t *testing.T, content string) (*Reloader, string) {
	t.Helper()
	path := writeConfig(t, content)
	loader := NewLoader().WithConfigPath(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	r, err := NewReloader(loader, cfg, WithPollInterval(5*time.Millisecond), WithReloadLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return r, path
}

func TestNewReloader_RequiresPath(t *testing.T) {
	_, err := NewReloader(NewLoader(), DefaultConfig())
	assert.Error(t, err)
	_, err = NewReloader(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestReloader_Check(t *testing.T) {
	r, path := newTestReloader(t, "log:\n  level: info\n")

	var got atomic.Pointer[Config]
	r.OnReload(func(old, next *Config) {
		assert.Equal(t, "info", old.Log.Level)
		got.Store(next)
	})

	changed, err := r.Check()
	require.NoError(t, err)
	assert.False(t, changed, "未修改的文件不触发重载")

	rewrite(t, path, "log:\n  level: debug\n")
	changed, err = r.Check()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "debug", r.Current().Log.Level)
	require.NotNil(t, got.Load())
	assert.Equal(t, "debug", got.Load().Log.Level)
}

func TestReloader_SameContentIsIgnored(t *testing.T) {
	r, path := newTestReloader(t, "log:\n  level: info\n")
	calls := 0
	r.OnReload(func(_, _ *Config) { calls++ })

	rewrite(t, path, "log:\n  level: info\n")
	changed, err := r.Check()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, calls)
}

func TestReloader_InvalidConfigKeepsPrevious(t *testing.T) {
	r, path := newTestReloader(t, "log:\n  level: info\n")

	rewrite(t, path, "log:\n  level: shouting\n")
	changed, err := r.Check()
	assert.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, "info", r.Current().Log.Level)
}

func TestReloader_CallbackPanicIsContained(t *testing.T) {
	r, path := newTestReloader(t, "log:\n  level: info\n")
	var second atomic.Bool
	r.OnReload(func(_, _ *Config) { panic("boom") })
	r.OnReload(func(_, _ *Config) { second.Store(true) })

	rewrite(t, path, "log:\n  level: warn\n")
	changed, err := r.Check()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, second.Load())
}

func TestReloader_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, path := newTestReloader(t, "log:\n  level: info\n")
	var reloaded atomic.Int32
	r.OnReload(func(_, _ *Config) { reloaded.Add(1) })

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "重复启动报错")

	rewrite(t, path, "log:\n  level: error\n")
	require.Eventually(t, func() bool { return reloaded.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "error", r.Current().Log.Level)

	r.Stop()
	r.Stop()
}

func TestReloader_StopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _ := newTestReloader(t, "log:\n  level: info\n")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()
	r.wg.Wait()
	r.Stop()
}
