// Package logging 根据 config.LogConfig 构建 zap logger，
// 返回的 AtomicLevel 供配置热重载时调整日志级别。
package logging
