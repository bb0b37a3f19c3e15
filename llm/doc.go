// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义模型接入层的公共类型：请求、响应、流式增量与 Provider 接口。

# Provider 抽象

[Provider] 提供 Completion / Stream / HealthCheck / Name。Stream 在连接
建立后返回 [streaming.Queue]，之后的读取错误与取消都作为队列的终止错误
出现，调用方用 Next 或 All 消费：

	q, err := p.Stream(ctx, req)
	if err != nil {
	    return err
	}
	for chunk, err := range q.All(ctx) {
	    if err != nil {
	        return err
	    }
	    fmt.Print(chunk.Delta.Content)
	}

[CollectStream] 把整个流拼接成一个 [ChatResponse]，流式工具调用的参数
片段会按调用合并。

# 错误

[Error] 与 [ErrorCode] 是 types 包的别名，可直接用 errors.As 判断
Retryable、HTTPStatus 与 RetryAfter。

# 子包

  - streaming：AsyncQueue、SSE 帧解码与带校验的事件读取
  - retry / throttle / circuitbreaker：韧性组件
  - pipeline：把缓存、熔断、重试、限流与观测组合成一次调用
  - schema：事件载荷校验
  - providers、providers/openaicompat：OpenAI 兼容协议实现
  - observability、tokenizer、cache、middleware：成本、估算、缓存与请求改写
*/
package llm
