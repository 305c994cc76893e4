package llm

import (
	"context"
	"sync"
)

// Reply is one canned response of a Scripted generator.
type Reply struct {
	Text  string
	Err   error
	Panic any
}

// Call records one request made to a Scripted generator.
type Call struct {
	Prompt Prompt
	Hint   *SchemaHint
}

// Scripted 按顺序返回预设回复的生成器，用于测试和离线演示
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

// NewScripted creates a generator that answers with replies in order.
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

func (s *Scripted) Generate(ctx context.Context, prompt Prompt, hint *SchemaHint) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Prompt: prompt, Hint: hint})
	if len(s.replies) == 0 {
		s.mu.Unlock()
		return "", ErrScriptExhausted
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()

	if r.Panic != nil {
		panic(r.Panic)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.Text, r.Err
}

// Calls returns a copy of the recorded requests.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
