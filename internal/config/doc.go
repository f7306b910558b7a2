// ABOUTME: Package documentation for gateway and desktop configuration
// ABOUTME: Describes the YAML process config and the shared JSON desktop config

// Package config loads the two configuration surfaces of openbot-gateway.
//
// # Gateway Config
//
// The gateway's own process configuration is a YAML file (listen address,
// backend child-process command, static asset directory, scheduler timing,
// logging). Environment variables in ${VAR} form are expanded before
// parsing, and duration fields accept Go duration strings:
//
//	server:
//	  http_addr: "127.0.0.1:38080"
//	backend:
//	  command: node
//	  entry: dist/server/main.js
//	  port_base: 38081
//	  api_prefix: /server-api
//	schedule:
//	  poll_interval: 2s
//	  idle_timeout: 10m
//
// # Desktop Config
//
// The desktop configuration (config.json, agents.json under
// ~/.openbot/desktop) is owned and written by the backend service; the
// gateway is a read-only consumer. It is deliberately re-read on every
// session creation so provider or API-key changes made in the desktop app
// apply to the next conversation without restarting the gateway.
package config
