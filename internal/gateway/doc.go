// ABOUTME: Package documentation for the gateway server
// ABOUTME: Socket protocol, HTTP front door, and assembly

// Package gateway exposes the desktop-facing surface of openbot-gateway.
//
// # Socket protocol
//
// Clients upgrade GET /socket to a duplex JSON connection. Every frame is a
// request, response or event envelope; requests are answered exactly once,
// and events flow server-to-client for sessions the connection subscribed
// to. The connect handshake binds the connection to a conversation id and
// implicitly subscribes it to that conversation's events. agent.chat only
// responds after the turn's terminal event, so the response doubles as an
// idle signal.
//
// # HTTP front door
//
// One listener serves everything the desktop shell needs:
//
//   - GET /health: liveness probe
//   - POST /run-scheduled-task: one-shot task execution
//   - POST {prefix}/skills/install-from-path: local skill installation
//   - {prefix}/*: reverse proxy to the supervised backend, answering 502
//     with a JSON body when the backend is unreachable
//   - everything else: packaged UI files, with unknown paths falling back
//     to index.html for HTML-accepting GET requests
//
// # Lifecycle
//
// Server.Start discovers a free backend port, spawns the backend child with
// that port injected, and binds the front door. Shutdown runs the reverse
// order: child, socket connections, sessions, listener.
package gateway
