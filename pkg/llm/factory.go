package llm

import (
	"strings"
)

// ProviderType LLM 提供者类型
type ProviderType string

const (
	ProviderTypeOpenAI ProviderType = "openai" // OpenAI 兼容的 API
	ProviderTypeOllama ProviderType = "ollama" // Ollama API
)

// NewGenerator 根据配置创建生成器
// 未识别的提供者（deepseek、qwen 等）按 OpenAI 兼容方式处理；CacheTTL > 0 时外层包一层缓存
func NewGenerator(opts Options) Generator {
	providerType := strings.ToLower(strings.TrimSpace(opts.Provider))
	if providerType == "" {
		providerType = string(ProviderTypeOpenAI)
	}
	opts.Provider = providerType

	var gen Generator
	switch providerType {
	case string(ProviderTypeOllama):
		gen = NewOllamaGenerator(opts)
	default:
		gen = NewOpenAIGenerator(opts)
	}

	if opts.CacheTTL > 0 {
		gen = NewCachedGenerator(gen, opts.CacheTTL, opts.Metrics)
	}
	return gen
}
