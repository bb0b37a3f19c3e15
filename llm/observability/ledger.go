package observability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UsageRecord 一次调用的用量记录
type UsageRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	CallID           string    `gorm:"size:64;index" json:"call_id"`
	TraceID          string    `gorm:"size:64" json:"trace_id,omitempty"`
	TenantID         string    `gorm:"size:64;index" json:"tenant_id,omitempty"`
	Operation        string    `gorm:"size:64" json:"operation"`
	Provider         string    `gorm:"size:64;index:idx_usage_model" json:"provider"`
	Model            string    `gorm:"size:128;index:idx_usage_model" json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
	Estimated        bool      `json:"estimated"`
	Cached           bool      `json:"cached"`
	Status           string    `gorm:"size:32" json:"status"`
	Attempts         int       `json:"attempts"`
	LatencyMs        int64     `json:"latency_ms"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// TableName 表名
func (UsageRecord) TableName() string {
	return "llm_usage_records"
}

// UsageLedger 把用量记录持久化到数据库
type UsageLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewUsageLedger 创建账本并自动迁移表结构
func NewUsageLedger(db *gorm.DB, logger *zap.Logger) (*UsageLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&UsageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate usage ledger: %w", err)
	}
	return &UsageLedger{
		db:     db,
		logger: logger.With(zap.String("component", "usage_ledger")),
	}, nil
}

// Record 写入一条记录，CreatedAt 为空时取当前时间
func (l *UsageLedger) Record(ctx context.Context, rec *UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		l.logger.Warn("record usage failed",
			zap.String("call_id", rec.CallID),
			zap.Error(err))
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// UsageFilter 查询条件，零值字段不参与过滤
type UsageFilter struct {
	TenantID string
	Provider string
	Model    string
	Since    time.Time
	Until    time.Time
}

func (f UsageFilter) apply(q *gorm.DB) *gorm.DB {
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	if f.Model != "" {
		q = q.Where("model = ?", f.Model)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at < ?", f.Until)
	}
	return q
}

// ModelUsage 按 provider+model 聚合的用量
type ModelUsage struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// Summarize 按 provider+model 聚合，按成本降序
func (l *UsageLedger) Summarize(ctx context.Context, filter UsageFilter) ([]ModelUsage, error) {
	var out []ModelUsage
	q := filter.apply(l.db.WithContext(ctx).Model(&UsageRecord{}))
	err := q.Select("provider, model, COUNT(*) AS requests, " +
		"COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens, " +
		"COALESCE(SUM(completion_tokens), 0) AS completion_tokens, " +
		"COALESCE(SUM(cost), 0) AS cost").
		Group("provider, model").
		Order("cost DESC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	return out, nil
}

// List 按时间倒序列出记录，limit<=0 时取 100
func (l *UsageLedger) List(ctx context.Context, filter UsageFilter, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []UsageRecord
	q := filter.apply(l.db.WithContext(ctx).Model(&UsageRecord{}))
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return out, nil
}

// Purge 删除 before 之前的记录，返回删除条数
func (l *UsageLedger) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("created_at < ?", before).Delete(&UsageRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge usage: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// WithDB 返回使用 db 的账本副本，常用于在外部事务中执行
func (l *UsageLedger) WithDB(db *gorm.DB) *UsageLedger {
	return &UsageLedger{db: db, logger: l.logger}
}
