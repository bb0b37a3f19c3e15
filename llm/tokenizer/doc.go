// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器。上游流式响应不带 usage 时，
// 由它估算 prompt 与 completion 的 token 数用于成本核算。
package tokenizer
