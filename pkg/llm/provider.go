package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sashabaranov/go-openai"
)

// 消息角色，与 OpenAI 兼容接口保持一致
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

var (
	// ErrEmptyResponse 模型返回了空内容
	ErrEmptyResponse = errors.New("llm returned an empty response")
	// ErrScriptExhausted 脚本化生成器没有更多预设回复
	ErrScriptExhausted = errors.New("scripted generator has no more responses")
)

// Message 统一的消息格式
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is one inference request: a system instruction plus the
// conversation so far.
type Prompt struct {
	System   string    `json:"system"`
	Messages []Message `json:"messages"`
}

// UserPrompt builds a prompt with a single user message.
func UserPrompt(system, text string) Prompt {
	return Prompt{System: system, Messages: []Message{{Role: RoleUser, Content: text}}}
}

// SchemaHint asks the provider to constrain output to a JSON schema. Providers
// that cannot honour it fall back to JSON object mode or plain text.
type SchemaHint struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// Generator 统一的文本生成接口
type Generator interface {
	Generate(ctx context.Context, prompt Prompt, hint *SchemaHint) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt Prompt, hint *SchemaHint) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt, hint *SchemaHint) (string, error) {
	return f(ctx, prompt, hint)
}

// Usage 使用统计信息（统一格式）
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
