// 版权所有 2024 GenFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 middleware 提供请求发送前的改写器链。

重试、限流、熔断、缓存与观测由 llm/pipeline 统一负责，本包只处理
请求本身：参数清理（EmptyToolsCleaner）与合法性校验
（RequireMessages、ToolChoiceValidator）。改写器不修改传入的请求，
需要变更时返回副本。
*/
package middleware
