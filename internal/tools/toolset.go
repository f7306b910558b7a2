// ABOUTME: Assembles the fixed toolset handed to every agent session
// ABOUTME: Browser automation, skill installation, and experience persistence

package tools

import (
	"log/slog"

	"github.com/openbot/openbot-gateway/internal/runtime"
)

// Toolset builds the tools given to a session created for the agent
// directory and workspace. The set is fixed; sessions do not negotiate
// capabilities.
func Toolset(agentDir, workspace string, logger *slog.Logger) []runtime.Tool {
	return []runtime.Tool{
		NewBrowserTool(logger),
		NewInstallSkillTool(agentDir, workspace, logger),
		NewSaveExperienceTool(agentDir, logger),
	}
}
