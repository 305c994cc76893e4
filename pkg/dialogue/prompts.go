package dialogue

import (
	"strings"

	"github.com/code-100-precent/MedIntake/pkg/llm"
)

// IntakeSystemPrompt 问诊助手的系统提示词
const IntakeSystemPrompt = `You are a medical intake assistant. Your goal is to gather all relevant clinical information through natural conversation.

Keep in mind that the patient is in their first trimester of pregnancy. Consider complications that may arise from this and ask the patient about any pre-existing conditions.

Key responsibilities:
1. Start by asking about primary symptoms
2. For each symptom, gather:
   - Onset and duration
   - Severity and characteristics
   - Alleviating/aggravating factors
3. Explore associated symptoms
4. When patient indicates they're done, summarize and confirm:
   - "Let me summarize what you've told me..."
   - "Is there anything else we haven't covered?"

Only when confirmation is complete should you generate the clinical analysis.`

// ThesisSystemPrompt 诊断模型的系统提示词
const ThesisSystemPrompt = `You are a medical expert. Analyze this patient conversation and generate:
1. A structured symptom summary
2. Potential differential diagnoses
3. Recommended next steps`

// Summary renders the transcript as "Patient: ..." / "Doctor: ..." lines.
func Summary(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		speaker := "Doctor"
		if t.Role == RolePatient {
			speaker = "Patient"
		}
		lines = append(lines, speaker+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

func intakePrompt(turns []Turn) llm.Prompt {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleAssistant
		if t.Role == RolePatient {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return llm.Prompt{System: IntakeSystemPrompt, Messages: msgs}
}

func thesisPrompt(turns []Turn) llm.Prompt {
	return llm.UserPrompt(ThesisSystemPrompt, "Patient conversation:\n"+Summary(turns))
}
