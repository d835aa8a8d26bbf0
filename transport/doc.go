// Package transport provides byte-level MCP transports: a subprocess
// transport framing newline-delimited JSON-RPC over a child process's
// stdio, a streamable HTTP transport with optional SSE, and an
// auto-authorizing wrapper that runs OAuth discovery and authorization
// on demand.
package transport
