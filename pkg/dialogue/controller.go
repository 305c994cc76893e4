package dialogue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/llm"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 2 * time.Minute

// QuitCommand ends the intake without a diagnosis.
const QuitCommand = "quit"

// InputSource 患者输入来源，Next 是会话中唯一的阻塞点
type InputSource interface {
	Next(ctx context.Context) (string, error)
}

// InputFunc adapts a function to InputSource.
type InputFunc func(ctx context.Context) (string, error)

func (f InputFunc) Next(ctx context.Context) (string, error) { return f(ctx) }

// DiagnosisHook receives the clinical thesis once the intake ends. Its error
// is logged and never changes the session outcome.
type DiagnosisHook func(ctx context.Context, thesis string) error

// Observer 会话事件回调，字段均可为空
type Observer struct {
	OnTurn      func(Turn)
	OnNotice    func(string)
	OnDiagnosis func(string)
}

// Options 对话控制器配置
type Options struct {
	Policy  TerminationPolicy
	Hook    DiagnosisHook
	Timeout time.Duration // 单次推理请求超时
	Metrics *metrics.Metrics
}

// Controller drives one intake session to completion.
type Controller struct {
	assistant llm.Generator
	diagnoser llm.Generator
	policy    TerminationPolicy
	hook      DiagnosisHook
	timeout   time.Duration
	metrics   *metrics.Metrics

	Observer Observer
}

// NewController 创建对话控制器；diagnoser 为空时使用 assistant 生成诊断
func NewController(assistant, diagnoser llm.Generator, opts Options) *Controller {
	if diagnoser == nil {
		diagnoser = assistant
	}
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy().Terminate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	return &Controller{
		assistant: assistant,
		diagnoser: diagnoser,
		policy:    opts.Policy,
		hook:      opts.Hook,
		timeout:   opts.Timeout,
		metrics:   opts.Metrics,
	}
}

// Run loops until the session reaches Done. Interruption, EOF and context
// cancellation while waiting for input end the session without an error and
// without a diagnosis.
func (c *Controller) Run(ctx context.Context, input InputSource) (State, error) {
	state := NewState()

	for {
		switch state.Phase {
		case AwaitingPatientInput:
			text, err := input.Next(ctx)
			if err == nil && strings.EqualFold(strings.TrimSpace(text), QuitCommand) {
				err = ErrInterrupted
			}
			if err == nil && ctx.Err() != nil {
				err = ctx.Err()
			}
			if err != nil {
				if !isInterruption(ctx, err) {
					return state, fmt.Errorf("read patient input: %w", err)
				}
				state, _ = Advance(state, Interrupt{}, c.policy)
				logger.Info("Intake session interrupted", zap.Int("turns", len(state.Turns)), zap.NamedError("cause", err))
				return state, nil
			}

			next, err := Advance(state, PatientUtterance{Text: text}, c.policy)
			if errors.Is(err, ErrEmptyInput) {
				continue
			}
			if err != nil {
				return state, err
			}
			state = next
			c.emitTurn(state)

		case AwaitingAssistantTurn:
			reply := c.assistantTurn(ctx, state.Turns)
			next, err := Advance(state, reply, c.policy)
			if err != nil {
				return state, err
			}
			state = next
			if state.Notice != "" {
				if c.Observer.OnNotice != nil {
					c.Observer.OnNotice(state.Notice)
				}
				continue
			}
			c.emitTurn(state)
			if state.Phase == Terminating {
				logger.Info("Closing confirmation detected, generating diagnosis", zap.Int("turns", len(state.Turns)))
			}

		case Terminating:
			result := c.diagnose(ctx, state.Turns)
			next, err := Advance(state, result, c.policy)
			if err != nil {
				return state, err
			}
			state = next
			if c.Observer.OnDiagnosis != nil {
				c.Observer.OnDiagnosis(*state.Diagnosis)
			}
			// 占位文本不进入知识图谱流程
			if result.usable() && len(state.Turns) > 0 && c.hook != nil {
				c.runHook(ctx, *state.Diagnosis)
			}

		case Done:
			return state, nil

		default:
			return state, fmt.Errorf("dialogue: unknown phase %q", state.Phase)
		}
	}
}

func isInterruption(ctx context.Context, err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil
}

func (c *Controller) emitTurn(state State) {
	turn := state.Turns[len(state.Turns)-1]
	c.metrics.RecordTurn(string(turn.Role))
	if c.Observer.OnTurn != nil {
		c.Observer.OnTurn(turn)
	}
}

func (c *Controller) assistantTurn(ctx context.Context, turns []Turn) AssistantReply {
	text, err := c.generate(ctx, c.assistant, intakePrompt(turns))
	if err != nil {
		logger.Error("Failed to generate assistant turn", zap.Error(err))
		return AssistantReply{Err: err}
	}
	return AssistantReply{Text: text}
}

func (c *Controller) diagnose(ctx context.Context, turns []Turn) DiagnosisResult {
	if len(turns) == 0 {
		return DiagnosisResult{}
	}
	logger.Info("Generating diagnosis based on full conversation", zap.Int("turns", len(turns)))
	text, err := c.generate(ctx, c.diagnoser, thesisPrompt(turns))
	if err != nil {
		logger.Error("Error generating diagnosis", zap.Error(err))
	}
	return DiagnosisResult{Text: text, Err: err}
}

func (c *Controller) generate(ctx context.Context, gen llm.Generator, prompt llm.Prompt) (text string, err error) {
	if gen == nil {
		return "", errors.New("no generator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return gen.Generate(ctx, prompt, nil)
}

func (c *Controller) runHook(ctx context.Context, thesis string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Diagnosis hook panicked", zap.Any("panic", r))
		}
	}()
	if err := c.hook(ctx, thesis); err != nil {
		logger.Warn("Diagnosis hook failed", zap.Error(err))
	}
}
