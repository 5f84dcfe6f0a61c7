package providers

import (
	"net/url"
	"strings"

	"paperlens/internal/config"
)

const chatCompletionsPath = "/chat/completions"

// Preset holds what is known about a Chat Completions back end.
type Preset struct {
	Kind         config.ProviderKind
	BaseURL      string
	DefaultModel string
	FreeModels   []string
	// WebSearch marks back ends that accept an inline web-search tool and
	// report the pages they read.
	WebSearch bool
	// JSONFormat marks back ends that honour response_format json_object.
	JSONFormat bool
}

var presets = map[config.ProviderKind]Preset{
	config.ProviderDeepSeek: {
		Kind:         config.ProviderDeepSeek,
		BaseURL:      "https://api.deepseek.com",
		DefaultModel: "deepseek-chat",
		JSONFormat:   true,
	},
	config.ProviderOpenRouter: {
		Kind:         config.ProviderOpenRouter,
		BaseURL:      "https://openrouter.ai/api/v1",
		DefaultModel: "deepseek/deepseek-chat-v3-0324:free",
		FreeModels: []string{
			"deepseek/deepseek-chat-v3-0324:free",
			"meta-llama/llama-3.3-70b-instruct:free",
			"google/gemini-2.0-flash-exp:free",
		},
	},
	config.ProviderSiliconFlow: {
		Kind:         config.ProviderSiliconFlow,
		BaseURL:      "https://api.siliconflow.cn/v1",
		DefaultModel: "deepseek-ai/DeepSeek-V3",
		FreeModels: []string{
			"Qwen/Qwen2.5-7B-Instruct",
			"THUDM/glm-4-9b-chat",
			"internlm/internlm2_5-7b-chat",
		},
		JSONFormat: true,
	},
	config.ProviderZhipu: {
		Kind:         config.ProviderZhipu,
		BaseURL:      "https://open.bigmodel.cn/api/paas/v4",
		DefaultModel: "glm-4-flash",
		FreeModels:   []string{"glm-4-flash", "glm-4-flash-250414"},
		WebSearch:    true,
		JSONFormat:   true,
	},
	config.ProviderCustom: {
		Kind: config.ProviderCustom,
	},
}

func PresetFor(kind config.ProviderKind) (Preset, bool) {
	p, ok := presets[kind]
	return p, ok
}

// NormalizeBaseURL makes sure the URL path ends with the Chat Completions
// path exactly once, collapsing repeats and trailing slashes. A query string
// is kept after the path and a fragment is dropped.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return withChatPath(raw)
	}
	u.Path = withChatPath(u.Path)
	u.RawPath = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func withChatPath(p string) string {
	p = strings.TrimRight(p, "/")
	for strings.HasSuffix(p, chatCompletionsPath) {
		p = strings.TrimRight(strings.TrimSuffix(p, chatCompletionsPath), "/")
	}
	return p + chatCompletionsPath
}
