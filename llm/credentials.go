package llm

import "context"

type apiKeyOverrideKey struct{}

// APIKeyOverride 单次请求内覆盖 Provider 的 API Key。
// 只通过 context 传递，不参与请求 JSON 序列化。
type APIKeyOverride string

// String 脱敏输出，避免被日志打印
func (k APIKeyOverride) String() string {
	if k == "" {
		return ""
	}
	return "***"
}

// WithAPIKey 在 ctx 中写入 API Key 覆盖，空串不改变 ctx。
func WithAPIKey(ctx context.Context, apiKey string) context.Context {
	if apiKey == "" {
		return ctx
	}
	return context.WithValue(ctx, apiKeyOverrideKey{}, APIKeyOverride(apiKey))
}

// APIKeyFromContext 读取 API Key 覆盖
func APIKeyFromContext(ctx context.Context) (string, bool) {
	k, ok := ctx.Value(apiKeyOverrideKey{}).(APIKeyOverride)
	return string(k), ok && k != ""
}
