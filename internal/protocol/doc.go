// ABOUTME: Package documentation for the socket wire protocol
// ABOUTME: Describes message shapes, methods and the event union

// Package protocol defines the JSON wire protocol spoken between the gateway
// and its UI clients over one duplex socket connection.
//
// # Message Shapes
//
// Every frame is a single JSON document in one of three shapes:
//
//	request:  {"type":"request","id":"...","method":"...","params":{...}}
//	response: {"type":"response","id":"...","result":{...}} or {"error":{"message":"..."}}
//	event:    {"type":"event","event":"...","payload":{...}}
//
// Responses echo their request's id; events carry no id and are fanned out
// to every connection subscribed to the originating conversation.
//
// # Methods
//
//   - connect: handshake; assigns or confirms a conversation id
//   - agent.chat: one conversational turn; resolves when the turn ends
//   - agent.cancel: cooperative cancellation of an in-flight turn
//   - subscribe_session / unsubscribe_session: event fan-out interest
//
// # Events
//
// The event set is closed: agent.chunk (text or thinking delta), agent.tool
// (start/end of a tool execution), and message_complete (authoritative end of
// a turn). Constructors in events.go are the only place payloads are built.
//
// # Client
//
// Client implements the requesting side: it generates ids, registers pending
// entries with per-call timeouts, and drops late responses whose entry has
// already been removed.
package protocol
