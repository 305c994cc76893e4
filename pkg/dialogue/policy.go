package dialogue

import (
	"fmt"
	"strings"
	"unicode"
)

// TerminationPolicy reports whether a fresh assistant reply, given the turns
// before it, should end the intake.
type TerminationPolicy func(reply string, prior []Turn) bool

// Scope 选择哪些患者发言参与否定确认判断
type Scope string

const (
	// ScopeAllPatientTurns 任意一次患者发言命中即可
	ScopeAllPatientTurns Scope = "all"
	// ScopeAfterConfirmation 只看紧跟在带结束提示的助手发言之后的患者发言
	ScopeAfterConfirmation Scope = "after_confirmation"
)

// ParseScope 解析 TERMINATION_SCOPE
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAllPatientTurns:
		return ScopeAllPatientTurns, nil
	case ScopeAfterConfirmation:
		return ScopeAfterConfirmation, nil
	}
	return "", fmt.Errorf("unknown termination scope %q", s)
}

// PhrasePolicy ends the intake when the assistant asks a closing question and
// the patient has already answered negatively.
//
// Phrases match on whole words after case folding, so "no" does not fire on
// "know" or "nose". It is still a heuristic: under ScopeAllPatientTurns an
// early "no known allergies" counts as a negative answer, and a patient who
// says "I'm good" is never recognised.
type PhrasePolicy struct {
	ClosingCues  []string
	NegativeAcks []string
	Scope        Scope
}

func DefaultPolicy() PhrasePolicy {
	return PhrasePolicy{
		ClosingCues:  []string{"anything else"},
		NegativeAcks: []string{"no", "nope", "nothing else", "that's all", "that is all"},
		Scope:        ScopeAllPatientTurns,
	}
}

// Terminate implements TerminationPolicy.
func (p PhrasePolicy) Terminate(reply string, prior []Turn) bool {
	if !containsAny(words(reply), p.ClosingCues) {
		return false
	}

	for i, t := range prior {
		if t.Role != RolePatient {
			continue
		}
		if p.Scope == ScopeAfterConfirmation {
			if i == 0 || prior[i-1].Role != RoleAssistant || !containsAny(words(prior[i-1].Text), p.ClosingCues) {
				continue
			}
		}
		if containsAny(words(t.Text), p.NegativeAcks) {
			return true
		}
	}
	return false
}

func containsAny(text []string, phrases []string) bool {
	for _, phrase := range phrases {
		if containsPhrase(text, words(phrase)) {
			return true
		}
	}
	return false
}

func containsPhrase(text, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(text) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(text); i++ {
		for j, w := range phrase {
			if text[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

// words splits on anything that is not a letter, digit or apostrophe.
func words(s string) []string {
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(strings.ToLower(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for i, f := range fields {
		fields[i] = strings.Trim(f, "'")
	}
	return fields
}
