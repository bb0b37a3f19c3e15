// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 providers 提供跨模型服务商的通用适配能力，是具体 Provider 实现的
公共基础层。

# 核心类型

  - BaseProviderConfig — 所有 Provider 共享的基础配置（APIKey、BaseURL、Model、Timeout）
  - OpenAICompat* 系列 — OpenAI 兼容 API 的请求/响应/工具调用/向量化结构体
  - ErrorResponse — OpenAI 风格的错误响应

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为 *types.Error（含 Retryable 标记）
  - ErrorFromResponse / RetryAfter — 读取错误响应并解析 Retry-After 提示
  - TransportError — 区分调用方取消、单次尝试超时与网络错误
  - BuildChatRequest / ToLLMChatResponse / ToStreamChunk — 请求与响应转换
  - ChooseModel — 按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
