// Package mcphub coordinates connections to many MCP tool servers: it owns
// the per-server connection state machine, merges lifecycle events, enforces
// tool-call timeouts, and drives OAuth authorization for servers that demand
// it.
package mcphub
