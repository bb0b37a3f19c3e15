// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的调用管线指标采集能力，覆盖
LLM 调用、重试、限流、流式事件、熔断、缓存与数据库七个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。指标通过
promauto.With(registerer) 注册，默认使用全局 DefaultRegisterer，
测试中可以注入独立的 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - LLM 指标：请求总数、耗时、Token 用量与成本，按 provider/model 分组。
  - 管线指标：逻辑调用总数与耗时、重试次数，按 operation 分组。
  - 限流指标：当前在途调用数 Gauge。
  - 流式指标：交付/丢弃的事件数、流终止原因。
  - 熔断指标：熔断器状态 Gauge（0 closed / 1 open / 2 half-open）。
  - 缓存与数据库指标：命中/未命中、连接数与查询耗时。
*/
package metrics
