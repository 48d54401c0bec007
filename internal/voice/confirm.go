package voice

import (
	"fmt"
	"strings"

	"github.com/linqmd/voice-onboarding/internal/domain"
)

// RecapMessage builds the confirmation prompt read to the subject once no
// required field is outstanding: every collected value, then an explicit
// yes/no question.
func RecapMessage(session *domain.Session) string {
	var b strings.Builder
	b.WriteString("Great, that's everything I need. Let me read back what I have: ")

	var parts []string
	for _, fs := range session.Fields {
		if fs.Collected {
			parts = append(parts, fmt.Sprintf("%s: %v", fs.DisplayName, formatValue(fs.Value)))
		}
	}
	b.WriteString(strings.Join(parts, "; "))
	b.WriteString(". Is all of that correct?")
	return b.String()
}

// CompletionMessage is the assistant's final turn after an affirmative
// confirmation.
func CompletionMessage() string {
	return "Perfect, your profile is complete. Thank you, and welcome aboard!"
}

// ReopenMessage asks again for a field the subject disputed during
// confirmation.
func ReopenMessage(displayName, question string) string {
	if question == "" {
		question = fmt.Sprintf("Could you give me your %s again?", strings.ToLower(displayName))
	}
	return fmt.Sprintf("Sorry about that, let's fix your %s. %s", strings.ToLower(displayName), question)
}

func formatValue(v any) string {
	if list, ok := v.([]string); ok {
		return strings.Join(list, ", ")
	}
	return fmt.Sprintf("%v", v)
}
