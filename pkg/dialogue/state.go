package dialogue

import (
	"errors"
	"strings"
)

// Phase 对话状态机所处阶段
type Phase string

const (
	AwaitingPatientInput  Phase = "awaiting_patient_input"
	AwaitingAssistantTurn Phase = "awaiting_assistant_turn"
	Terminating           Phase = "terminating"
	Done                  Phase = "done"
)

// Role 发言方
type Role string

const (
	RolePatient   Role = "patient"
	RoleAssistant Role = "assistant"
)

const (
	NoticeAssistantFailed = "could not generate analysis"
	DiagnosisFailed       = "Could not generate clinical analysis"
	DiagnosisNoTurns      = "No conversation to analyze"
)

var (
	// ErrEmptyInput 患者输入为空，调用方应重新提示
	ErrEmptyInput = errors.New("dialogue: empty patient input")
	// ErrUnexpectedOutcome 当前阶段不接受该结果
	ErrUnexpectedOutcome = errors.New("dialogue: outcome not valid in current phase")
	// ErrInterrupted is returned by an InputSource when the patient leaves.
	ErrInterrupted = errors.New("dialogue: interrupted")
)

// Turn 一轮发言
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// State is one immutable snapshot of a conversation. Advance returns a new
// State and never touches the one it was given.
type State struct {
	Phase             Phase   `json:"phase"`
	Turns             []Turn  `json:"turns"`
	Symptoms          string  `json:"symptoms"`
	WaitingForPatient bool    `json:"waiting_for_patient"`
	Diagnosis         *string `json:"diagnosis,omitempty"`
	ShouldEnd         bool    `json:"should_end"`
	Interrupted       bool    `json:"interrupted"`
	Notice            string  `json:"notice,omitempty"`
}

func NewState() State {
	return State{Phase: AwaitingPatientInput, WaitingForPatient: true}
}

func (s State) clone() State {
	out := s
	if s.Turns != nil {
		out.Turns = make([]Turn, len(s.Turns))
		copy(out.Turns, s.Turns)
	}
	if s.Diagnosis != nil {
		d := *s.Diagnosis
		out.Diagnosis = &d
	}
	return out
}

// PatientTurns returns how many turns the patient has taken.
func (s State) PatientTurns() int {
	n := 0
	for _, t := range s.Turns {
		if t.Role == RolePatient {
			n++
		}
	}
	return n
}

// Outcome is one external event fed to Advance.
type Outcome interface {
	outcome()
}

// PatientUtterance 患者输入的一句话
type PatientUtterance struct {
	Text string
}

// AssistantReply 助手生成的回复；Err 非空表示生成失败
type AssistantReply struct {
	Text string
	Err  error
}

// DiagnosisResult 最终诊断生成结果
type DiagnosisResult struct {
	Text string
	Err  error
}

// Interrupt 患者主动结束会话
type Interrupt struct{}

func (PatientUtterance) outcome() {}
func (AssistantReply) outcome()   {}
func (DiagnosisResult) outcome()  {}
func (Interrupt) outcome()        {}

// usable reports whether r carries a thesis rather than a placeholder.
func (r DiagnosisResult) usable() bool {
	return r.Err == nil && strings.TrimSpace(r.Text) != ""
}

// Advance computes the state that follows s after o. It is pure: s is left
// untouched and nothing outside the arguments is read. A nil policy means
// DefaultPolicy. On error the returned state equals s.
func Advance(s State, o Outcome, policy TerminationPolicy) (State, error) {
	if policy == nil {
		policy = DefaultPolicy().Terminate
	}
	next := s.clone()
	next.Notice = ""

	switch s.Phase {
	case AwaitingPatientInput:
		switch o := o.(type) {
		case PatientUtterance:
			text := strings.TrimSpace(o.Text)
			if text == "" {
				return s, ErrEmptyInput
			}
			next.Turns = append(next.Turns, Turn{Role: RolePatient, Text: text})
			if next.Symptoms == "" {
				next.Symptoms = text
			} else {
				next.Symptoms += " " + text
			}
			next.WaitingForPatient = false
			next.Phase = AwaitingAssistantTurn
			return next, nil

		case Interrupt:
			next.Interrupted = true
			next.WaitingForPatient = false
			next.Phase = Done
			return next, nil
		}

	case AwaitingAssistantTurn:
		if o, ok := o.(AssistantReply); ok {
			next.WaitingForPatient = true
			next.Phase = AwaitingPatientInput
			if o.Err != nil || strings.TrimSpace(o.Text) == "" {
				next.Notice = NoticeAssistantFailed
				return next, nil
			}

			reply := strings.TrimSpace(o.Text)
			if policy(reply, s.Turns) {
				next.ShouldEnd = true
				next.WaitingForPatient = false
				next.Phase = Terminating
			}
			next.Turns = append(next.Turns, Turn{Role: RoleAssistant, Text: reply})
			return next, nil
		}

	case Terminating:
		if o, ok := o.(DiagnosisResult); ok {
			var diagnosis string
			switch {
			case len(s.Turns) == 0:
				diagnosis = DiagnosisNoTurns
			case !o.usable():
				diagnosis = DiagnosisFailed
			default:
				diagnosis = strings.TrimSpace(o.Text)
			}
			next.Diagnosis = &diagnosis
			next.Phase = Done
			return next, nil
		}
	}

	return s, ErrUnexpectedOutcome
}
