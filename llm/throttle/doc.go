// Copyright (c) GenFlow Authors.
// Licensed under the MIT License.

/*
Package throttle 提供单次尝试级别的准入控制。

# 概述

Throttle 只负责"放不放行"：在并发上限或速率上限到达时挂起调用方，
直到有空位或 ctx 取消。它不感知重试与业务错误，被包裹的函数无论
成功、失败还是 panic，占用的名额都会被释放。

同一个 Throttle 实例被所有经过它的调用共享，这是本包唯一的跨调用共享状态。

# 实现

  - Unlimited()          — 纯透传，零开销
  - NewMaxConcurrency(n) — 基于 golang.org/x/sync/semaphore 的并发上限
  - NewRateLimit(r, b)   — 基于 golang.org/x/time/rate 的令牌桶
  - Chain(...)           — 依次叠加多个 Throttle
*/
package throttle
