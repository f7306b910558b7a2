// ABOUTME: REST client for the supervised backend service
// ABOUTME: Conversation, agent-config and skill lookups plus message/usage posting

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openbot/openbot-gateway/internal/skills"
)

// requestTimeout bounds every call toward the backend; the backend is a
// local child process, so anything slower is effectively down.
const requestTimeout = 10 * time.Second

// Client talks to the backend service's REST API. The base URL is written
// once at startup, after port discovery, and read-only thereafter.
type Client struct {
	baseURL   string
	apiPrefix string
	http      *http.Client
	logger    *slog.Logger
}

// New creates a backend client for the given base URL (scheme://host:port)
// and API prefix.
func New(baseURL, apiPrefix string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiPrefix: apiPrefix,
		http:      &http.Client{Timeout: requestTimeout},
		logger:    logger.With("component", "backend-client"),
	}
}

// BaseURL returns the backend base URL without the API prefix.
func (c *Client) BaseURL() string { return c.baseURL }

// ChatSession is the persisted conversation record.
type ChatSession struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	Workspace string `json:"workspace"`
	Title     string `json:"title"`
}

// AgentConfig is one agent's binding as persisted by the backend.
type AgentConfig struct {
	ID        string `json:"id"`
	Workspace string `json:"workspace"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

// UsageRecord is one token-usage accounting entry.
type UsageRecord struct {
	SessionID        string `json:"sessionId"`
	Source           string `json:"source"`
	TaskID           string `json:"taskId,omitempty"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
}

// Usage sources.
const (
	UsageSourceChat          = "chat"
	UsageSourceScheduledTask = "scheduled_task"
)

func (c *Client) endpoint(path string) string {
	return c.baseURL + c.apiPrefix + path
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
	}
	return nil
}

// GetSession fetches one conversation record by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	var session ChatSession
	if err := c.getJSON(ctx, "/agents/sessions/"+url.PathEscape(sessionID), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetAgentConfig fetches one agent binding by id.
func (c *Client) GetAgentConfig(ctx context.Context, agentID string) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := c.getJSON(ctx, "/agents/"+url.PathEscape(agentID), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListSkills fetches installed-skill metadata. An unreachable backend yields
// an empty list, not an error: the prompt builder degrades gracefully.
func (c *Client) ListSkills(ctx context.Context) []skills.Skill {
	var list []skills.Skill
	if err := c.getJSON(ctx, "/skills", &list); err != nil {
		c.logger.Warn("listing skills failed, continuing without", "error", err)
		return nil
	}
	return list
}

// PostAssistantMessage persists an assistant message into a conversation.
func (c *Client) PostAssistantMessage(ctx context.Context, sessionID, content string) error {
	return c.postJSON(ctx, "/agents/sessions/"+url.PathEscape(sessionID)+"/messages", map[string]string{
		"role":    "assistant",
		"content": content,
	})
}

// PostUsage records token usage.
func (c *Client) PostUsage(ctx context.Context, record UsageRecord) error {
	return c.postJSON(ctx, "/usage", record)
}
