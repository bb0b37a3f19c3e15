package openaicompat

import (
	"fmt"
	"sort"
)

// Preset 是已知 OpenAI 兼容服务的默认地址与模型。
type Preset struct {
	BaseURL        string
	EndpointPath   string
	ModelsEndpoint string
	FallbackModel  string
	EmbeddingModel string
}

var presets = map[string]Preset{
	"openai": {
		BaseURL:        "https://api.openai.com",
		FallbackModel:  "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
	},
	"deepseek": {
		BaseURL:        "https://api.deepseek.com",
		EndpointPath:   "/chat/completions",
		ModelsEndpoint: "/models",
		FallbackModel:  "deepseek-chat",
	},
	"qwen": {
		BaseURL:        "https://dashscope.aliyuncs.com",
		EndpointPath:   "/compatible-mode/v1/chat/completions",
		ModelsEndpoint: "/compatible-mode/v1/models",
		FallbackModel:  "qwen-plus",
		EmbeddingModel: "text-embedding-v3",
	},
	"glm": {
		BaseURL:        "https://open.bigmodel.cn",
		EndpointPath:   "/api/paas/v4/chat/completions",
		ModelsEndpoint: "/api/paas/v4/models",
		FallbackModel:  "glm-4-plus",
	},
	"doubao": {
		BaseURL:        "https://ark.cn-beijing.volces.com",
		EndpointPath:   "/api/v3/chat/completions",
		ModelsEndpoint: "/api/v3/models",
		FallbackModel:  "Doubao-1.5-pro-32k",
	},
	"hunyuan": {
		BaseURL:       "https://api.hunyuan.cloud.tencent.com",
		FallbackModel: "hunyuan-pro",
	},
	"kimi": {
		BaseURL:       "https://api.moonshot.cn",
		FallbackModel: "moonshot-v1-8k",
	},
	"grok": {
		BaseURL:       "https://api.x.ai",
		FallbackModel: "grok-beta",
	},
	"mistral": {
		BaseURL:        "https://api.mistral.ai",
		FallbackModel:  "mistral-large-latest",
		EmbeddingModel: "mistral-embed",
	},
	"minimax": {
		BaseURL:       "https://api.minimax.io",
		EndpointPath:  "/v1/text/chatcompletion_v2",
		FallbackModel: "MiniMax-Text-01",
	},
	"together": {
		BaseURL:       "https://api.together.xyz",
		FallbackModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
	},
	"openrouter": {
		BaseURL:       "https://openrouter.ai/api",
		FallbackModel: "meta-llama/llama-3.3-70b-instruct",
	},
}

// Presets 返回已知服务名，按字母排序。
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupPreset 按名称查找预设。
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// ApplyPreset 用 cfg.ProviderName 对应的预设补齐未设置的字段，
// 显式配置的值优先。未知名称且未设置 BaseURL 时报错。
func ApplyPreset(cfg Config) (Config, error) {
	p, ok := presets[cfg.ProviderName]
	if !ok {
		if cfg.BaseURL == "" {
			return cfg, fmt.Errorf("unknown provider %q and no base_url configured", cfg.ProviderName)
		}
		return cfg, nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.BaseURL
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = p.EndpointPath
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = p.ModelsEndpoint
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = p.FallbackModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = p.EmbeddingModel
	}
	return cfg, nil
}
