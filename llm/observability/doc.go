// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 observability 提供 LLM 调用的可观测性能力，涵盖指标采集、
分布式追踪、成本核算与用量账本。

# 概述

本包基于 OpenTelemetry 标准，为流水线中的每次调用记录 span、
重试事件、流式事件计数、Token 消耗与成本。全局 Provider 未初始化时
所有操作都是 noop，初始化见 internal/telemetry。

# 核心类型

  - Metrics：OpenTelemetry 指标与追踪，提供 StartCall/EndCall、
    RecordRetry、RecordStreamEvent、RecordUsage 与 RecordCache。
  - CostCalculator：成本计算器，内置常用模型价格表，支持按
    provider:model、同名模型与模型名前缀三级查价。
  - CostTracker：进程级成本累计，区分真实与估算的用量。
  - UsageLedger：基于 gorm 的用量账本，支持按租户、模型与时间段
    聚合查询与清理。
  - EstimateTokens：上游未返回 usage 时通过 llm/tokenizer 本地估算。
*/
package observability
