// ABOUTME: Tool letting an agent install a skill package from a local path
// ABOUTME: Wraps the gateway-local installer used by the HTTP install endpoint

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openbot/openbot-gateway/internal/skills"
)

const installSkillPromptDoc = `## Install Skill Tool

Use ` + "`install_skill`" + ` to install a skill package from a local directory.
The directory must contain a SKILL.md file describing the skill.

Arguments: {"path": "/abs/path/to/skill", "global": false}
Set "global" to true to install for every workspace instead of the current one.`

type installSkillArgs struct {
	Path   string `json:"path"`
	Global bool   `json:"global,omitempty"`
}

// InstallSkillTool installs skill packages into the agent's skill
// directories. Workspace-scoped installs land under the workspace the
// session was created for.
type InstallSkillTool struct {
	agentDir  string
	workspace string
	logger    *slog.Logger
}

// NewInstallSkillTool creates the tool bound to one agent directory and
// session workspace.
func NewInstallSkillTool(agentDir, workspace string, logger *slog.Logger) *InstallSkillTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstallSkillTool{
		agentDir:  agentDir,
		workspace: workspace,
		logger:    logger.With("component", "install-skill-tool"),
	}
}

// Name implements runtime.Tool.
func (t *InstallSkillTool) Name() string { return "install_skill" }

// PromptDoc implements runtime.Tool.
func (t *InstallSkillTool) PromptDoc() string { return installSkillPromptDoc }

// Execute implements runtime.Tool.
func (t *InstallSkillTool) Execute(_ context.Context, raw json.RawMessage) (string, error) {
	var args installSkillArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parsing install_skill arguments: %w", err)
	}

	req := skills.InstallRequest{
		Path:      args.Path,
		Scope:     skills.ScopeWorkspace,
		Workspace: t.workspace,
	}
	if args.Global {
		req.Scope = skills.ScopeGlobal
	}

	result, err := skills.Install(t.agentDir, req)
	if err != nil {
		return "", err
	}

	t.logger.Info("skill installed", "name", result.Name, "dir", result.InstallDir)
	return fmt.Sprintf("installed skill %q to %s", result.Name, result.InstallDir), nil
}
