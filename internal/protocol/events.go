// ABOUTME: Closed set of wire events fanned out to subscribed connections
// ABOUTME: Constructed once at the runtime/protocol translation point, never re-inferred

package protocol

import "encoding/json"

// Wire event names.
const (
	EventAgentChunk      = "agent.chunk"
	EventAgentTool       = "agent.tool"
	EventMessageComplete = "message_complete"
)

// Tool event phases.
const (
	ToolPhaseStart = "start"
	ToolPhaseEnd   = "end"
)

// ChunkPayload carries one text or thinking delta.
type ChunkPayload struct {
	Text       string `json:"text"`
	IsThinking bool   `json:"isThinking,omitempty"`
}

// ToolPayload carries a tool execution start or end.
type ToolPayload struct {
	Type       string          `json:"type"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     string          `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

// CompletePayload marks the authoritative end of a turn.
type CompletePayload struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

func newEvent(name string, payload any) *Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		// A broken payload must never take the event stream down; ship a
		// diagnostic frame instead.
		raw, _ = json.Marshal(map[string]string{"error": "unserializable event payload: " + err.Error()})
	}
	return &Message{Type: TypeEvent, Event: name, Payload: raw}
}

// sanitizeRaw passes valid JSON through untouched and re-encodes anything
// else as a JSON string. Model providers sometimes stream truncated tool
// arguments; those must still produce a well-formed frame.
func sanitizeRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

// NewChunkEvent builds an agent.chunk event.
func NewChunkEvent(text string, thinking bool) *Message {
	return newEvent(EventAgentChunk, ChunkPayload{Text: text, IsThinking: thinking})
}

// NewToolStartEvent builds an agent.tool start event.
func NewToolStartEvent(toolCallID, toolName string, args json.RawMessage) *Message {
	return newEvent(EventAgentTool, ToolPayload{
		Type:       ToolPhaseStart,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Args:       sanitizeRaw(args),
	})
}

// NewToolEndEvent builds an agent.tool end event.
func NewToolEndEvent(toolCallID, toolName, result string, isError bool) *Message {
	return newEvent(EventAgentTool, ToolPayload{
		Type:       ToolPhaseEnd,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Result:     result,
		IsError:    isError,
	})
}

// NewCompleteEvent builds a message_complete event for the given conversation.
func NewCompleteEvent(sessionID string) *Message {
	return newEvent(EventMessageComplete, CompletePayload{SessionID: sessionID, Content: ""})
}
