package session

import (
	"fmt"
	"strings"

	"github.com/chai-dev682/plivo-interview-phone-agent/internal/config"
)

func withLanguage(prompt, language string) string {
	if language == "" {
		language = "English"
	}
	return strings.ReplaceAll(prompt, "{language}", language)
}

// sessionInstructions is the system prompt for the whole call: interviewer
// persona plus the full question list in the interview language.
func sessionInstructions(p config.AgentProfile, language string, questions []string) string {
	var b strings.Builder
	b.WriteString(withLanguage(p.InterviewerPrompt, language))
	if len(questions) > 0 {
		b.WriteString("\n\nThe interview questions, in order:\n")
		for i, q := range questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	return b.String()
}

// greetingInstructions opens the call: a welcome, then the first question when
// there is one.
func greetingInstructions(p config.AgentProfile, language, firstQuestion string) string {
	base := withLanguage(p.WelcomePrompt, language)
	if firstQuestion == "" {
		return base
	}
	return base + fmt.Sprintf(" Then ask the first interview question: %q", firstQuestion)
}

// questionInstructions acknowledges the previous answer and asks the next
// question.
func questionInstructions(question string) string {
	return fmt.Sprintf("Briefly acknowledge the candidate's answer without giving feedback, then ask the next interview question: %q", question)
}

// goodbyeInstructions closes the call.
func goodbyeInstructions(p config.AgentProfile, language string) string {
	return withLanguage(p.GoodbyePrompt, language)
}
