/*
包 openaicompat 实现 OpenAI Chat Completions 兼容协议的 Provider。

DeepSeek、Qwen、GLM、Grok、Kimi、Doubao 等服务共用同一套请求格式，
差异只在地址、默认模型与少量请求头，由 Preset 描述：

	cfg, err := openaicompat.ApplyPreset(openaicompat.Config{
	    BaseProviderConfig: providers.BaseProviderConfig{APIKey: key},
	    ProviderName:       "deepseek",
	})
	p := openaicompat.New(cfg, exec, logger)

所有上游调用都经过 pipeline.Executor：Completion 走响应缓存、熔断、
重试与限流；Stream 在建立连接阶段重试，之后的 SSE 事件逐条解码为
llm.StreamChunk，无法解码的事件被跳过。每次调用结束后通过
Executor.RecordUsage 记录 token 用量与成本，上游未返回 usage 时本地估算。
*/
package openaicompat
