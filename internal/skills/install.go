// ABOUTME: Local skill directory installation into global or workspace scope
// ABOUTME: Validates the source directory and copies it under the agent dir

package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// MarkerFile must exist in a directory for it to count as a skill.
const MarkerFile = "SKILL.md"

// Scope values accepted by Install.
const (
	ScopeGlobal    = "global"
	ScopeWorkspace = "workspace"
)

var skillNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationError marks caller mistakes (bad path, missing marker, bad name)
// so the HTTP layer can answer 400 instead of 500.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a skill validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InstallRequest describes one install-from-path call.
type InstallRequest struct {
	Path      string `json:"path"`
	Scope     string `json:"scope,omitempty"`
	Workspace string `json:"workspace,omitempty"`
}

// InstallResult reports where the skill landed.
type InstallResult struct {
	Name       string `json:"name"`
	InstallDir string `json:"installDir"`
}

// Install validates the local skill directory and copies it into the global
// or workspace skills directory under agentDir, replacing any existing
// install of the same name.
func Install(agentDir string, req InstallRequest) (*InstallResult, error) {
	localPath := filepath.Clean(req.Path)
	if req.Path == "" {
		return nil, validationErrorf("path is required")
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, validationErrorf("local path does not exist: %s", localPath)
	}
	if !info.IsDir() {
		return nil, validationErrorf("path is not a skill directory: %s", localPath)
	}
	if _, err := os.Stat(filepath.Join(localPath, MarkerFile)); err != nil {
		return nil, validationErrorf("no %s found in %s; not a valid skill directory", MarkerFile, localPath)
	}

	name := filepath.Base(localPath)
	if !skillNameRe.MatchString(name) {
		return nil, validationErrorf("skill directory name must contain only letters, digits, underscores or hyphens, got %q", name)
	}

	scope := req.Scope
	if scope != ScopeWorkspace {
		scope = ScopeGlobal
	}
	workspace := req.Workspace
	if workspace == "" {
		workspace = "default"
	}

	targetDir := GlobalDir(agentDir)
	if scope == ScopeWorkspace {
		targetDir = WorkspaceDir(agentDir, workspace)
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating skills directory: %w", err)
	}

	dest := filepath.Join(targetDir, name)
	if err := os.RemoveAll(dest); err != nil {
		return nil, fmt.Errorf("removing previous install: %w", err)
	}

	src := localPath
	if resolved, err := filepath.EvalSymlinks(localPath); err == nil {
		src = resolved
	}
	if err := os.CopyFS(dest, os.DirFS(src)); err != nil {
		return nil, fmt.Errorf("copying skill directory: %w", err)
	}

	return &InstallResult{Name: name, InstallDir: targetDir}, nil
}

// GlobalDir returns the global skills directory under the agent dir.
func GlobalDir(agentDir string) string {
	return filepath.Join(agentDir, "skills")
}

// WorkspaceDir returns the skills directory for one workspace.
func WorkspaceDir(agentDir, workspace string) string {
	return filepath.Join(agentDir, "workspaces", workspace, "skills")
}
