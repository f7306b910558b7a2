// ABOUTME: Package documentation for backend process supervision
// ABOUTME: Port discovery and child lifecycle

// Package supervisor discovers a free port for the backend service and runs
// it as a child process.
//
// The port is found by probing upward from a configured baseline, binding
// and releasing a loopback listener per candidate. The chosen port is
// injected into the child through the PORT environment variable and the
// same value parameterizes the gateway's reverse proxy target.
//
// Child stdout and stderr are forwarded line by line into the gateway's
// structured log. A missing entry point downgrades startup to a warning so
// the gateway can front a backend managed outside its process tree.
package supervisor
