// ABOUTME: Package documentation for the agent toolset
// ABOUTME: Describes tool construction and the docs surfaced to models

// Package tools implements the fixed toolset exposed to agent sessions.
//
// Each tool implements runtime.Tool: a name, a prompt documentation block
// stitched into the session's system prompt, and an Execute method taking
// raw JSON arguments.
//
// # Tools
//
//   - browser: headless Chrome automation via go-rod, launched lazily on
//     first use and shared across calls
//   - install_skill: installs a skill package from a local path into the
//     agent's global or workspace skill directory
//   - save_experience: appends durable notes to a JSONL file that is
//     replayed into future sessions' context
package tools
