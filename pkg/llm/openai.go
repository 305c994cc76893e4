package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// JSONMode controls how a SchemaHint is passed to the API.
type JSONMode string

const (
	JSONModeSchema JSONMode = "schema" // response_format=json_schema
	JSONModeObject JSONMode = "object" // response_format=json_object
	JSONModeNone   JSONMode = "none"   // 仅依赖提示词约束
)

// ParseJSONMode 解析 LLM_JSON_MODE，空值默认为 schema
func ParseJSONMode(s string) (JSONMode, error) {
	switch JSONMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", JSONModeSchema:
		return JSONModeSchema, nil
	case JSONModeObject:
		return JSONModeObject, nil
	case JSONModeNone:
		return JSONModeNone, nil
	}
	return "", fmt.Errorf("unknown json mode %q", s)
}

// Options 生成器配置
type Options struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	JSONMode    JSONMode
	CacheTTL    time.Duration
	HTTPClient  *http.Client
	Metrics     *metrics.Metrics
}

// OpenAIGenerator talks to any OpenAI compatible chat completion endpoint.
type OpenAIGenerator struct {
	client      *openai.Client
	provider    string
	baseURL     string
	model       string
	temperature float32
	jsonMode    JSONMode
	metrics     *metrics.Metrics

	mu        sync.Mutex
	lastUsage openai.Usage
	hasUsage  bool
}

// NewOpenAIGenerator 创建 OpenAI 兼容的生成器
func NewOpenAIGenerator(opts Options) *OpenAIGenerator {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	config := openai.DefaultConfig(opts.APIKey)
	config.BaseURL = baseURL
	if opts.HTTPClient != nil {
		config.HTTPClient = opts.HTTPClient
	}

	model := opts.Model
	if model == "" {
		model = openai.GPT4o
	}
	provider := opts.Provider
	if provider == "" {
		provider = string(ProviderTypeOpenAI)
	}
	jsonMode := opts.JSONMode
	if jsonMode == "" {
		jsonMode = JSONModeSchema
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(config),
		provider:    provider,
		baseURL:     baseURL,
		model:       model,
		temperature: opts.Temperature,
		jsonMode:    jsonMode,
		metrics:     opts.Metrics,
	}
}

// Model returns the configured model name.
func (g *OpenAIGenerator) Model() string { return g.model }

// Generate sends one chat completion request and returns the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt Prompt, hint *SchemaHint) (string, error) {
	startTime := time.Now()

	request := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    buildMessages(prompt),
		Temperature: g.temperature,
	}
	if format := g.responseFormat(hint); format != nil {
		request.ResponseFormat = format
	}

	logger.Debug("Sending request to LLM API",
		zap.String("provider", g.provider),
		zap.String("base_url", g.baseURL),
		zap.String("model", request.Model),
		zap.Int("message_count", len(request.Messages)),
		zap.Bool("structured", request.ResponseFormat != nil),
	)

	response, err := g.client.CreateChatCompletion(ctx, request)
	if err != nil {
		g.metrics.RecordLLMRequest(g.provider, g.model, false, time.Since(startTime))
		logger.Error("LLM API call failed",
			zap.String("provider", g.provider),
			zap.String("model", request.Model),
			zap.Error(err),
		)
		return "", fmt.Errorf("error querying LLM API: %w", err)
	}

	g.mu.Lock()
	g.lastUsage = response.Usage
	g.hasUsage = true
	g.mu.Unlock()

	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
		g.metrics.RecordLLMRequest(g.provider, g.model, false, time.Since(startTime))
		return "", ErrEmptyResponse
	}

	g.metrics.RecordLLMRequest(g.provider, g.model, true, time.Since(startTime))
	logger.Debug("Received response from LLM API",
		zap.String("response_id", response.ID),
		zap.Int("total_tokens", response.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return response.Choices[0].Message.Content, nil
}

// GetLastUsage 获取最后一次调用的使用统计信息
func (g *OpenAIGenerator) GetLastUsage() (Usage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hasUsage {
		return Usage{}, false
	}
	return Usage{
		PromptTokens:     g.lastUsage.PromptTokens,
		CompletionTokens: g.lastUsage.CompletionTokens,
		TotalTokens:      g.lastUsage.TotalTokens,
	}, true
}

func (g *OpenAIGenerator) responseFormat(hint *SchemaHint) *openai.ChatCompletionResponseFormat {
	if hint == nil {
		return nil
	}
	switch g.jsonMode {
	case JSONModeSchema:
		if len(hint.Schema) == 0 {
			return &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
		}
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        hint.Name,
				Description: hint.Description,
				Schema:      hint.Schema,
			},
		}
	case JSONModeObject:
		return &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	default:
		return nil
	}
}

func buildMessages(prompt Prompt) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(prompt.Messages)+1)
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	for _, msg := range prompt.Messages {
		// 部分兼容接口不接受空 content
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := msg.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return messages
}
