// ABOUTME: System prompt construction for agent sessions
// ABOUTME: Concatenates the base description, tool usage docs and skill summaries

package runtime

import "strings"

// basePrompt is the fixed opening of every session's system prompt.
const basePrompt = "You are a helpful assistant. When users ask about skills, explain what skills are available."

// BuildSystemPrompt assembles the system prompt from the base description,
// each tool's usage documentation, and any extra preformatted blocks (skill
// summaries, remembered experience). Empty parts are skipped.
func BuildSystemPrompt(tools []Tool, extraBlocks ...string) string {
	parts := []string{basePrompt}
	for _, tool := range tools {
		if doc := strings.TrimSpace(tool.PromptDoc()); doc != "" {
			parts = append(parts, doc)
		}
	}
	for _, block := range extraBlocks {
		if strings.TrimSpace(block) != "" {
			parts = append(parts, block)
		}
	}
	return strings.Join(parts, "\n\n")
}
