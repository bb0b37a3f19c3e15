// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，为 GenFlow 提供
// TracerProvider 与 MeterProvider，交给 llm/observability 创建调用 span
// 与指标。禁用时返回全局（默认 noop）实现，不连接任何外部服务。
package telemetry
