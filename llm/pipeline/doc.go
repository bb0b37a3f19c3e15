// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 pipeline 把重试、限流、熔断、缓存与可观测性组合成一条调用流水线，
是 Provider 发起上游请求的唯一入口。

# 组合顺序

从外到内依次为：

	cache → circuit breaker → retry → throttle → attempt

  - 缓存命中时直接返回，不占用熔断与限流额度。
  - 熔断器看到的是整次调用（含全部重试）的最终结果。
  - 每次尝试单独获取限流槽位，退避等待期间不占用槽位。

# 核心入口

  - Call / Do：普通请求-响应调用。
  - Cached：先查 llm/cache，未命中再走 Call 并回写。
  - Stream：打开 SSE 连接（只有打开阶段参与重试与限流），随后交给
    streaming.ReadEvents 解码、校验并写入队列；队列终止时结束 span
    并记录终止原因。
  - RecordUsage：核算成本并写入 Prometheus、OpenTelemetry 与用量账本。
*/
package pipeline
