// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供 LLM 响应的两级缓存，通过本地 LRU 与 Redis 协同
减少重复调用，降低延迟与成本。

# 核心类型

  - ResponseCache：本地 LRU 为 L1、Store 为 L2，L2 命中自动回填 L1。
    读写失败只记录日志，不会让调用失败。
  - Store：二级存储接口，internal/cache.Manager（go-redis）实现了它。
  - KeyStrategy：缓存键生成策略，hash 对整个请求取摘要，scoped 在键中
    带上租户与模型，便于按前缀失效。
  - LRUCache：泛型本地 LRU，带 TTL。

# 可缓存判断

IsCacheable 默认跳过带 Tools 的请求；流式调用不走缓存。
*/
package cache
