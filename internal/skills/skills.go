// ABOUTME: Skill metadata and system-prompt formatting
// ABOUTME: Truncates descriptions to a fixed character budget to save tokens

package skills

import (
	"strings"
	"unicode/utf8"
)

// MaxDescriptionChars caps each skill description embedded in the system
// prompt; longer descriptions are truncated with an ellipsis.
const MaxDescriptionChars = 250

// Skill is installed-skill metadata as reported by the backend service.
// Skill-file parsing happens there, not in the gateway.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// FormatForPrompt renders skills as the block appended to the system prompt.
// Returns "" when no skills are installed.
func FormatForPrompt(list []Skill) string {
	if len(list) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Available Skills\n")
	for _, s := range list {
		desc := s.Description
		if utf8.RuneCountInString(desc) > MaxDescriptionChars {
			desc = string([]rune(desc)[:MaxDescriptionChars]) + "…"
		}
		b.WriteString("- ")
		b.WriteString(s.Name)
		if desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
