// ABOUTME: Package documentation for session lifecycle management
// ABOUTME: Registry ownership model, eviction policy, and event fan-out

// Package session owns the mapping from chat session ids to live agent
// sessions.
//
// # Ownership
//
// The Registry is the single owner of that mapping. Callers acquire a
// Handle and never hold raw runtime sessions. The map is mutated only under
// the registry lock; placement lookups and session construction run outside
// it, so one slow creation never stalls other conversations' lookups or
// cancels.
//
// # Lifecycle
//
// Sessions are created lazily on first acquisition. Workspace and agent
// binding come from the backend's session record, falling back to desktop
// defaults. Provider credentials are re-resolved from the desktop
// configuration on every creation so key changes apply without a restart.
//
// Ephemeral sessions (the scheduled-task runner's, or any id with the
// "system-" prefix) are never reused: acquisition discards any prior
// session of the same id, and the registry removes the session itself as
// soon as its turn's terminal event has been published.
//
// When the configured session limit is reached, the least recently used
// idle session is evicted to make room. Sessions still processing a turn
// are never evicted; if every candidate is busy, acquisition fails with
// ErrCapacity.
//
// # Events
//
// Each live session's raw runtime events are translated into wire events
// and fanned out through the shared Broadcaster: text and thinking deltas
// become agent.chunk, tool boundaries become agent.tool, and the turn's
// terminal signal becomes message_complete. Turn usage is reported to the
// backend asynchronously for non-ephemeral sessions.
package session
