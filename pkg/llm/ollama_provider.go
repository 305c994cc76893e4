package llm

import (
	"strings"

	"github.com/code-100-precent/MedIntake/pkg/logger"
	"go.uber.org/zap"
)

const defaultOllamaURL = "http://localhost:11434/v1"

// NewOllamaGenerator 创建 Ollama 生成器
// Ollama 提供 OpenAI 兼容的 /v1 接口，直接复用 OpenAIGenerator
func NewOllamaGenerator(opts Options) *OpenAIGenerator {
	opts.BaseURL = normalizeOllamaURL(opts.BaseURL)
	// Ollama 不需要真实的 API Key，占位即可
	if opts.APIKey == "" {
		opts.APIKey = "ollama"
	}
	opts.Provider = string(ProviderTypeOllama)

	logger.Info("Creating Ollama generator",
		zap.String("baseURL", opts.BaseURL),
		zap.String("model", opts.Model),
	)
	return NewOpenAIGenerator(opts)
}

// normalizeOllamaURL 确保 baseURL 以 /v1 结尾
func normalizeOllamaURL(baseURL string) string {
	if baseURL == "" {
		return defaultOllamaURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.Contains(baseURL, "/v1") {
		baseURL += "/v1"
	}
	return baseURL
}
