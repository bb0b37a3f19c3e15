package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/BaSui01/genflow/config"
)

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{}, nil)
	assert.ErrorContains(t, err, "not configured")

	_, err = Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestOpen_SQLite(t *testing.T) {
	type counter struct {
		ID    uint `gorm:"primaryKey"`
		Value int
	}

	cfg := config.DatabaseConfig{Driver: "sqlite", Name: ":memory:", MaxOpenConns: 1}
	db, err := Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	pm, err := NewPoolManager(db, PoolConfigFrom(cfg), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	require.NoError(t, pm.DB().AutoMigrate(&counter{}))
	require.NoError(t, pm.WithTransactionRetry(context.Background(), fastPolicy(2), func(tx *gorm.DB) error {
		return tx.Create(&counter{Value: 7}).Error
	}))

	var got counter
	require.NoError(t, pm.DB().First(&got).Error)
	assert.Equal(t, 7, got.Value)
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{
		Name:                "usage",
		MaxOpenConns:        4,
		ConnMaxLifetime:     time.Minute,
		HealthCheckInterval: time.Second,
	})
	assert.Equal(t, "usage", pc.Name)
	assert.Equal(t, 4, pc.MaxOpenConns)
	assert.Equal(t, DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)
	assert.Equal(t, time.Second, pc.HealthCheckInterval)
}
