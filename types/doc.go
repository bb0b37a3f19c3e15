// Copyright (c) GenFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 GenFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、streaming、retry、
throttle、pipeline 等上层模块提供统一的错误契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、
    Provider、RetryAfter 标记

# 错误分类

  - QUEUE_CLOSED      — 向已关闭的队列推送（编程错误）
  - DECODE_ERROR      — SSE 帧解码失败，对当前流是致命的
  - VALIDATION_ERROR  — 单帧 JSON 解析或 schema 校验失败，可恢复
  - CANCELLED         — 外部取消信号在挂起点触发
  - 其余 LLM 错误码按 Retryable 区分可重试与致命错误

# 主要能力

  - 错误工具链：AsError / GetErrorCode / IsRetryable / IsCancellation
  - 常用错误构造：NewCancellationError / NewDecodeError / NewValidationError
*/
package types
