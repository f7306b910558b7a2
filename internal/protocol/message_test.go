// ABOUTME: Tests for wire message decoding and event construction
// ABOUTME: Covers shape validation, error responses and the event union

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Request(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"request","id":"r1","method":"connect","params":{"sessionId":"s1"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeRequest, msg.Type)
	assert.Equal(t, "r1", msg.ID)
	assert.Equal(t, MethodConnect, msg.Method)

	var params ConnectParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "s1", params.SessionID)
}

func TestDecode_Response(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"response","id":"r1","result":{"status":"connected"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeResponse, msg.Type)
	assert.Nil(t, msg.Error)
}

func TestDecode_ErrorResponse(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"response","id":"r1","error":{"message":"boom"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Error)
	assert.Equal(t, "boom", msg.Error.Message)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"unknown type", `{"type":"notify","id":"1"}`},
		{"request without id", `{"type":"request","method":"connect"}`},
		{"request without method", `{"type":"request","id":"1"}`},
		{"response without id", `{"type":"response"}`},
		{"event without name", `{"type":"event","payload":{}}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestNewErrorResponse_EchoesID(t *testing.T) {
	msg := NewErrorResponse("req-9", "Unknown method: frobnicate")
	assert.Equal(t, TypeResponse, msg.Type)
	assert.Equal(t, "req-9", msg.ID)
	assert.Equal(t, "Unknown method: frobnicate", msg.Error.Message)
}

func TestChunkEvent_RoundTrip(t *testing.T) {
	msg := NewChunkEvent("hello", false)
	assert.Equal(t, EventAgentChunk, msg.Event)

	var payload ChunkPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "hello", payload.Text)
	assert.False(t, payload.IsThinking)
}

func TestChunkEvent_ThinkingFlag(t *testing.T) {
	msg := NewChunkEvent("pondering", true)

	var payload ChunkPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.True(t, payload.IsThinking)
}

func TestToolEvents(t *testing.T) {
	start := NewToolStartEvent("tc-1", "browser", json.RawMessage(`{"action":"navigate"}`))
	var sp ToolPayload
	require.NoError(t, json.Unmarshal(start.Payload, &sp))
	assert.Equal(t, ToolPhaseStart, sp.Type)
	assert.Equal(t, "tc-1", sp.ToolCallID)
	assert.Equal(t, "browser", sp.ToolName)

	end := NewToolEndEvent("tc-1", "browser", "done", false)
	var ep ToolPayload
	require.NoError(t, json.Unmarshal(end.Payload, &ep))
	assert.Equal(t, ToolPhaseEnd, ep.Type)
	assert.Equal(t, "done", ep.Result)
	assert.False(t, ep.IsError)
}

func TestToolStartEvent_TruncatedArgsStayValidJSON(t *testing.T) {
	// Providers can cut a tool-call stream mid-argument; the event must still
	// marshal into a valid frame instead of taking down the emitter.
	msg := NewToolStartEvent("tc-1", "browser", json.RawMessage(`{"action": "nav`))

	var sp ToolPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &sp))
	assert.Equal(t, ToolPhaseStart, sp.Type)
	assert.JSONEq(t, `"{\"action\": \"nav"`, string(sp.Args))

	frame, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.True(t, json.Valid(frame))
}

func TestCompleteEvent(t *testing.T) {
	msg := NewCompleteEvent("sess-1")
	assert.Equal(t, EventMessageComplete, msg.Event)

	var payload CompletePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "sess-1", payload.SessionID)
	assert.Equal(t, "", payload.Content)
}
