package observability

import "github.com/BaSui01/genflow/llm/tokenizer"

// EstimateTokens 上游没有返回 usage 时本地估算 prompt 与 completion 的 token 数。
func EstimateTokens(model string, prompt []tokenizer.Message, completion string) (promptTokens, completionTokens int) {
	if len(prompt) > 0 {
		promptTokens = tokenizer.CountMessages(model, prompt)
	}
	if completion != "" {
		completionTokens = tokenizer.Count(model, completion)
	}
	return promptTokens, completionTokens
}
