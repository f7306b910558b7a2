// ABOUTME: Tests for desktop config resolution
// ABOUTME: Covers defaults, per-agent overrides and credential lookup

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDesktopFiles(t *testing.T, configJSON, agentsJSON string) string {
	t.Helper()
	dir := t.TempDir()
	if configJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(configJSON), 0o644))
	}
	if agentsJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "agents.json"), []byte(agentsJSON), 0o644))
	}
	return dir
}

func TestLoadDesktop_MissingFileUsesDefaults(t *testing.T) {
	cfg := LoadDesktop(t.TempDir())
	assert.Equal(t, "deepseek", cfg.DefaultProvider)
	assert.Equal(t, "deepseek-chat", cfg.DefaultModel)
	assert.Equal(t, DefaultAgentID, cfg.DefaultAgentID)
	assert.Equal(t, DefaultMaxAgentSessions, cfg.MaxAgentSessions)
}

func TestLoadDesktop_CorruptFileUsesDefaults(t *testing.T) {
	dir := writeDesktopFiles(t, "{not json", "")
	cfg := LoadDesktop(dir)
	assert.Equal(t, DefaultMaxAgentSessions, cfg.MaxAgentSessions)
}

func TestLoadDesktop_Overrides(t *testing.T) {
	dir := writeDesktopFiles(t, `{
		"defaultProvider": "dashscope",
		"defaultModel": "qwen-max",
		"defaultAgentId": "research",
		"maxAgentSessions": 2,
		"providers": {"dashscope": {"apiKey": "sk-test"}}
	}`, "")

	cfg := LoadDesktop(dir)
	assert.Equal(t, "dashscope", cfg.DefaultProvider)
	assert.Equal(t, "qwen-max", cfg.DefaultModel)
	assert.Equal(t, "research", cfg.DefaultAgentID)
	assert.Equal(t, 2, cfg.MaxAgentSessions)
	assert.Equal(t, "sk-test", cfg.Providers["dashscope"].APIKey)
}

func TestLoadDesktop_NonPositiveMaxIgnored(t *testing.T) {
	dir := writeDesktopFiles(t, `{"maxAgentSessions": -3}`, "")
	cfg := LoadDesktop(dir)
	assert.Equal(t, DefaultMaxAgentSessions, cfg.MaxAgentSessions)
}

func TestResolveAgentCredentials_Defaults(t *testing.T) {
	dir := writeDesktopFiles(t, `{
		"providers": {"deepseek": {"apiKey": " sk-deep "}}
	}`, "")

	creds := ResolveAgentCredentials(dir, "")
	assert.Equal(t, "deepseek", creds.Provider)
	assert.Equal(t, "deepseek-chat", creds.Model)
	assert.Equal(t, "sk-deep", creds.APIKey)
}

func TestResolveAgentCredentials_AgentOverride(t *testing.T) {
	dir := writeDesktopFiles(t, `{
		"providers": {
			"deepseek": {"apiKey": "sk-deep"},
			"dashscope": {"apiKey": "sk-dash"}
		}
	}`, `{"agents": [
		{"id": "research", "workspace": "research", "provider": "dashscope", "model": "qwen-plus"}
	]}`)

	creds := ResolveAgentCredentials(dir, "research")
	assert.Equal(t, "dashscope", creds.Provider)
	assert.Equal(t, "qwen-plus", creds.Model)
	assert.Equal(t, "sk-dash", creds.APIKey)
}

func TestResolveAgentCredentials_UnknownAgentFallsBack(t *testing.T) {
	dir := writeDesktopFiles(t, `{"providers": {"deepseek": {"apiKey": "sk"}}}`,
		`{"agents": [{"id": "other", "workspace": "w"}]}`)

	creds := ResolveAgentCredentials(dir, "ghost")
	assert.Equal(t, "deepseek", creds.Provider)
	assert.Equal(t, "sk", creds.APIKey)
}

func TestResolveAgentCredentials_NoKey(t *testing.T) {
	creds := ResolveAgentCredentials(t.TempDir(), "")
	assert.Empty(t, creds.APIKey)

	err := ErrNoAPIKey(creds.Provider)
	assert.ErrorContains(t, err, "deepseek")
	assert.ErrorContains(t, err, "openbot login")
}
