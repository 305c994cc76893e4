package dialogue

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/llm"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Init(&logger.LogConfig{Level: "info"}, "test")
}

// lines feeds canned patient input and then reports EOF.
func lines(in ...string) InputSource {
	return InputFunc(func(ctx context.Context) (string, error) {
		if len(in) == 0 {
			return "", io.EOF
		}
		next := in[0]
		in = in[1:]
		return next, nil
	})
}

func TestController_FullSession(t *testing.T) {
	assistantGen := llm.NewScripted(
		llm.Reply{Text: "How long have you felt nauseous?"},
		llm.Reply{Text: "Let me summarize what you've told me... Is there anything else we haven't covered?"},
	)
	diagnoser := llm.NewScripted(llm.Reply{Text: "1. Nausea for two weeks\n2. Hyperemesis gravidarum\n3. Check electrolytes"})

	var hooked string
	c := NewController(assistantGen, diagnoser, Options{
		Hook: func(ctx context.Context, thesis string) error {
			hooked = thesis
			return nil
		},
	})
	var observed []Turn
	c.Observer.OnTurn = func(t Turn) { observed = append(observed, t) }

	state, err := c.Run(context.Background(), lines("I feel nauseous", "", "two weeks, no fever"))
	require.NoError(t, err)

	assert.Equal(t, Done, state.Phase)
	assert.True(t, state.ShouldEnd)
	assert.False(t, state.Interrupted)
	require.NotNil(t, state.Diagnosis)
	assert.Contains(t, *state.Diagnosis, "Hyperemesis")
	assert.Equal(t, *state.Diagnosis, hooked)
	assert.Len(t, state.Turns, 4)
	assert.Equal(t, state.Turns, observed)
	assert.Equal(t, "I feel nauseous two weeks, no fever", state.Symptoms)

	calls := assistantGen.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, IntakeSystemPrompt, calls[1].Prompt.System)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "I feel nauseous"},
		{Role: llm.RoleAssistant, Content: "How long have you felt nauseous?"},
		{Role: llm.RoleUser, Content: "two weeks, no fever"},
	}, calls[1].Prompt.Messages)

	dcalls := diagnoser.Calls()
	require.Len(t, dcalls, 1)
	assert.Equal(t, ThesisSystemPrompt, dcalls[0].Prompt.System)
	assert.True(t, strings.HasPrefix(dcalls[0].Prompt.Messages[0].Content, "Patient conversation:\nPatient: I feel nauseous\nDoctor: How long"))
}

func TestController_AssistantFailureIsRecovered(t *testing.T) {
	assistantGen := llm.NewScripted(
		llm.Reply{Err: errors.New("upstream 500")},
		llm.Reply{Panic: "nil map"},
		llm.Reply{Text: "Tell me more."},
	)
	c := NewController(assistantGen, nil, Options{})
	var notices []string
	c.Observer.OnNotice = func(n string) { notices = append(notices, n) }

	state, err := c.Run(context.Background(), lines("dizzy", "still dizzy", "very dizzy"))
	require.NoError(t, err)

	assert.Equal(t, []string{NoticeAssistantFailed, NoticeAssistantFailed}, notices)
	assert.True(t, state.Interrupted, "input ran out")
	assert.Nil(t, state.Diagnosis)
	assert.Equal(t, []Turn{
		patient("dizzy"), patient("still dizzy"), patient("very dizzy"), assistant("Tell me more."),
	}, state.Turns)
}

func TestController_Quit(t *testing.T) {
	assistantGen := llm.NewScripted(llm.Reply{Text: "Go on."})
	diagnoser := llm.NewScripted()
	hookCalled := false
	c := NewController(assistantGen, diagnoser, Options{
		Hook: func(context.Context, string) error { hookCalled = true; return nil },
	})

	state, err := c.Run(context.Background(), lines("back pain", " QUIT "))
	require.NoError(t, err)
	assert.True(t, state.Interrupted)
	assert.Equal(t, Done, state.Phase)
	assert.Nil(t, state.Diagnosis)
	assert.Empty(t, diagnoser.Calls())
	assert.False(t, hookCalled)
}

func TestController_InputErrors(t *testing.T) {
	c := NewController(llm.NewScripted(), nil, Options{})

	state, err := c.Run(context.Background(), InputFunc(func(context.Context) (string, error) {
		return "", ErrInterrupted
	}))
	require.NoError(t, err)
	assert.True(t, state.Interrupted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state, err = c.Run(ctx, lines("hello"))
	require.NoError(t, err)
	assert.True(t, state.Interrupted)
	assert.Empty(t, state.Turns)

	broken := errors.New("terminal closed unexpectedly")
	_, err = c.Run(context.Background(), InputFunc(func(context.Context) (string, error) {
		return "", broken
	}))
	assert.ErrorIs(t, err, broken)
}

func TestController_DiagnosisFailure(t *testing.T) {
	tests := []struct {
		name  string
		reply llm.Reply
	}{
		{name: "generator error", reply: llm.Reply{Err: errors.New("model not loaded")}},
		{name: "blank thesis", reply: llm.Reply{Text: "   "}},
		{name: "empty thesis", reply: llm.Reply{Text: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assistantGen := llm.NewScripted(llm.Reply{Text: "Anything else?"})
			diagnoser := llm.NewScripted(tt.reply)
			var hooked []string
			c := NewController(assistantGen, diagnoser, Options{
				Hook: func(_ context.Context, thesis string) error { hooked = append(hooked, thesis); return nil },
			})

			state, err := c.Run(context.Background(), lines("no, that's all"))
			require.NoError(t, err)
			assert.Equal(t, Done, state.Phase)
			assert.Equal(t, DiagnosisFailed, *state.Diagnosis)
			assert.Empty(t, hooked)
		})
	}
}

func TestController_HookFailureIsNotFatal(t *testing.T) {
	assistantGen := llm.NewScripted(llm.Reply{Text: "Anything else?"})
	diagnoser := llm.NewScripted(llm.Reply{Text: "thesis"})
	c := NewController(assistantGen, diagnoser, Options{
		Hook: func(context.Context, string) error { return errors.New("graph store down") },
	})

	state, err := c.Run(context.Background(), lines("nope"))
	require.NoError(t, err)
	assert.Equal(t, "thesis", *state.Diagnosis)
}

func TestController_Timeout(t *testing.T) {
	slow := llm.GeneratorFunc(func(ctx context.Context, _ llm.Prompt, _ *llm.SchemaHint) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	c := NewController(slow, nil, Options{Timeout: 10 * time.Millisecond})
	var notices int
	c.Observer.OnNotice = func(string) { notices++ }

	state, err := c.Run(context.Background(), lines("cough"))
	require.NoError(t, err)
	assert.Equal(t, 1, notices)
	assert.True(t, state.Interrupted)
}
