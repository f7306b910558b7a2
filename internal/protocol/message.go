// ABOUTME: Wire message shapes for the gateway socket protocol
// ABOUTME: Requests, responses and events exchanged as JSON over one duplex connection

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType discriminates the three wire message shapes.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	TypeEvent    MessageType = "event"
)

// Method names understood by the socket protocol server.
const (
	MethodConnect            = "connect"
	MethodAgentChat          = "agent.chat"
	MethodAgentCancel        = "agent.cancel"
	MethodSubscribeSession   = "subscribe_session"
	MethodUnsubscribeSession = "unsubscribe_session"
)

// ErrInvalidMessage indicates a payload that does not parse into any of the
// three message shapes.
var ErrInvalidMessage = errors.New("invalid message format")

// Message is the envelope for every frame on the socket. Which fields are
// populated depends on Type.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorObject is the error half of a response message.
type ErrorObject struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Decode parses raw bytes into a Message and validates the shape invariants:
// requests need an id and a method, responses need an id, events need a name.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrInvalidMessage
	}

	switch msg.Type {
	case TypeRequest:
		if msg.ID == "" || msg.Method == "" {
			return nil, ErrInvalidMessage
		}
	case TypeResponse:
		if msg.ID == "" {
			return nil, ErrInvalidMessage
		}
	case TypeEvent:
		if msg.Event == "" {
			return nil, ErrInvalidMessage
		}
	default:
		return nil, ErrInvalidMessage
	}
	return &msg, nil
}

// NewRequest builds a request message, marshaling params if non-nil.
func NewRequest(id, method string, params any) (*Message, error) {
	msg := &Message{Type: TypeRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling params: %w", err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// NewResponse builds a success response carrying the handler's result.
func NewResponse(id string, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &Message{Type: TypeResponse, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response echoing the request id.
func NewErrorResponse(id string, message string) *Message {
	return &Message{
		Type:  TypeResponse,
		ID:    id,
		Error: &ErrorObject{Message: message},
	}
}

// ConnectParams are the parameters of the connect handshake.
type ConnectParams struct {
	SessionID string `json:"sessionId,omitempty"`
}

// ConnectResult is the handshake result.
type ConnectResult struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// ChatParams are the parameters of agent.chat.
type ChatParams struct {
	Message       string `json:"message"`
	SessionID     string `json:"sessionId,omitempty"`
	TargetAgentID string `json:"targetAgentId,omitempty"`
}

// ChatResult is returned once the full turn has completed.
type ChatResult struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
}

// CancelParams are the parameters of agent.cancel.
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// SubscribeParams are the parameters of subscribe_session and
// unsubscribe_session. An empty SessionID means the connection's own.
type SubscribeParams struct {
	SessionID string `json:"sessionId,omitempty"`
}
