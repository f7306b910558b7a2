// ABOUTME: Agent runtime collaborator surface consumed by the gateway
// ABOUTME: Session construction, turn delivery, event subscription and the raw event union

package runtime

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrSessionBusy indicates a turn was attempted while another turn is still
// in flight on the same session. The runtime does not tolerate overlapping
// turns.
var ErrSessionBusy = errors.New("session is already processing a turn")

// Runtime constructs conversational agent sessions. The gateway treats the
// implementation as opaque and only calls these entry points.
type Runtime interface {
	// CreateSession builds a long-lived session for one conversation.
	CreateSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is one live agent conversation. Implementations must be safe for
// concurrent use: subscribers attach and detach while turns run.
type Session interface {
	// SendUserMessage delivers one user turn and blocks until the runtime's
	// own completion signal. Returns ErrSessionBusy if a turn is in flight.
	SendUserMessage(ctx context.Context, text string) error

	// Subscribe attaches an event handler to the session's raw event stream
	// and returns a function that detaches it. Events for one turn arrive in
	// generation order.
	Subscribe(fn func(Event)) (unsubscribe func())

	// IsStreaming reports whether a turn is currently being processed.
	IsStreaming() bool

	// Cancel requests cooperative cancellation of the in-flight turn, if
	// any. A canceled turn may still emit its terminal event.
	Cancel()

	// Close releases the session's resources.
	Close() error
}

// SessionConfig parameterizes session construction.
type SessionConfig struct {
	Workspace    string
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string // optional provider endpoint override
	AgentID      string // tool-installation targeting scope
	SystemPrompt string
	Tools        []Tool
}

// Tool is one entry of the fixed custom toolset exposed to the runtime.
type Tool interface {
	// Name is the identifier the model calls the tool by.
	Name() string

	// PromptDoc is the usage documentation embedded in the system prompt.
	PromptDoc() string

	// Execute runs the tool with the model-provided JSON arguments.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// EventKind discriminates the raw runtime event union.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventThinkingDelta
	EventToolStart
	EventToolEnd
	EventTurnEnd
)

// Event is one entry of a session's raw event stream. Which fields are
// meaningful depends on Kind.
type Event struct {
	Kind EventKind

	// Delta for EventTextDelta and EventThinkingDelta.
	Delta string

	// Tool fields for EventToolStart and EventToolEnd.
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	Result     string
	IsError    bool

	// Usage for EventTurnEnd, nil when the provider reported none.
	Usage *Usage
}

// Usage is the token accounting attached to a turn's terminal event.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}
