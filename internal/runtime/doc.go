// ABOUTME: Package documentation for the agent runtime surface
// ABOUTME: Describes the session lifecycle and raw event stream contract

// Package runtime defines the surface through which the gateway consumes an
// agent runtime: session construction, one-turn-at-a-time message delivery,
// and a subscribable raw event stream.
//
// # Contract
//
// A Session accepts at most one in-flight turn; SendUserMessage blocks until
// the runtime's own completion signal and returns ErrSessionBusy when a turn
// overlaps. Subscribers observe events in generation order: text and
// thinking deltas, tool start/end pairs, and a terminal TurnEnd per turn,
// optionally carrying token usage.
//
// The agent reasoning loop itself (tool calling, model streaming, prompt
// handling) lives behind this interface and is not part of the gateway.
//
// # Mock
//
// MockRuntime and MockSession replay scripted event sequences and are the
// basis of the session, schedule and gateway tests.
package runtime
