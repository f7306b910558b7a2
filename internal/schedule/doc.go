// ABOUTME: Package documentation for the scheduled-task runner
// ABOUTME: Busy guard, ephemeral execution, best-effort persistence

// Package schedule runs one-shot agent tasks triggered by the desktop
// scheduler.
//
// A run executes in the target conversation's own session, acquired fresh
// for the run: scheduled conversations are ephemeral by construction, so
// the session is discarded when the run finishes, whether it succeeded,
// failed, or timed out waiting. No scheduled run leaves a session behind.
//
// Before running, any in-flight turn on the conversation is waited out by
// polling, bounded by the configured idle timeout; a conversation still
// busy past the timeout fails the run with a "still busy" error. When the
// request carries a backend base URL, the accumulated reply and token
// usage are persisted through the backend asynchronously: persistence
// failures are logged, never surfaced to the scheduler.
package schedule
