// ABOUTME: Desktop configuration shared with the backend service
// ABOUTME: Reads config.json and agents.json fresh on every session creation

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultAgentID is the implicit agent binding when none is configured.
const DefaultAgentID = "default"

// DefaultMaxAgentSessions bounds concurrently live non-ephemeral sessions
// when the desktop config does not say otherwise.
const DefaultMaxAgentSessions = 5

const (
	desktopConfigFile = "config.json"
	agentsFile        = "agents.json"
)

// DesktopConfig mirrors the config.json the backend service writes. The
// gateway only reads it.
type DesktopConfig struct {
	DefaultProvider  string                    `json:"defaultProvider"`
	DefaultModel     string                    `json:"defaultModel"`
	DefaultAgentID   string                    `json:"defaultAgentId"`
	MaxAgentSessions int                       `json:"maxAgentSessions"`
	Providers        map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig holds per-provider credentials.
type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
}

// AgentEntry is one configured agent in agents.json.
type AgentEntry struct {
	ID        string `json:"id"`
	Workspace string `json:"workspace"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

type agentsDocument struct {
	Agents []AgentEntry `json:"agents"`
}

// AgentCredentials is the resolved provider binding for one agent.
type AgentCredentials struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// LoadDesktop reads config.json from the desktop directory. A missing or
// unparsable file yields defaults rather than an error: the gateway must
// keep working before the desktop app has ever written config.
func LoadDesktop(desktopDir string) *DesktopConfig {
	cfg := &DesktopConfig{
		DefaultProvider:  "deepseek",
		DefaultModel:     "deepseek-chat",
		DefaultAgentID:   DefaultAgentID,
		MaxAgentSessions: DefaultMaxAgentSessions,
	}

	data, err := os.ReadFile(filepath.Join(desktopDir, desktopConfigFile))
	if err != nil {
		return cfg
	}

	var parsed DesktopConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return cfg
	}

	if parsed.DefaultProvider != "" {
		cfg.DefaultProvider = parsed.DefaultProvider
	}
	if parsed.DefaultModel != "" {
		cfg.DefaultModel = parsed.DefaultModel
	}
	if strings.TrimSpace(parsed.DefaultAgentID) != "" {
		cfg.DefaultAgentID = strings.TrimSpace(parsed.DefaultAgentID)
	}
	if parsed.MaxAgentSessions > 0 {
		cfg.MaxAgentSessions = parsed.MaxAgentSessions
	}
	cfg.Providers = parsed.Providers
	return cfg
}

// LoadAgents reads agents.json from the desktop directory. A missing file is
// not an error; it means no agents beyond the default are configured.
func LoadAgents(desktopDir string) []AgentEntry {
	data, err := os.ReadFile(filepath.Join(desktopDir, agentsFile))
	if err != nil {
		return nil
	}
	var doc agentsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc.Agents
}

// ResolveAgentCredentials resolves provider, model and API key for the given
// agent id, falling back to desktop defaults for anything the agent entry
// does not override. Both files are re-read on every call so key changes
// take effect without a gateway restart.
//
// A missing API key is not an error here; the session registry turns it into
// a user-actionable message at creation time.
func ResolveAgentCredentials(desktopDir, agentID string) *AgentCredentials {
	cfg := LoadDesktop(desktopDir)

	if agentID == "" {
		agentID = cfg.DefaultAgentID
	}

	creds := &AgentCredentials{
		Provider: cfg.DefaultProvider,
		Model:    cfg.DefaultModel,
	}

	for _, agent := range LoadAgents(desktopDir) {
		if agent.ID == agentID {
			if agent.Provider != "" {
				creds.Provider = agent.Provider
			}
			if agent.Model != "" {
				creds.Model = agent.Model
			}
			break
		}
	}

	if provider, ok := cfg.Providers[creds.Provider]; ok {
		creds.APIKey = strings.TrimSpace(provider.APIKey)
		creds.BaseURL = strings.TrimSpace(provider.BaseURL)
	}
	return creds
}

// ErrNoAPIKey builds the user-actionable error for a provider without a
// configured key.
func ErrNoAPIKey(provider string) error {
	return fmt.Errorf("no API key configured for provider %q; add it in desktop settings or run 'openbot login %s'", provider, provider)
}
