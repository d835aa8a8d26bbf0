// Package client implements the MCP protocol client: the initialize
// handshake, tool listing and invocation, and request/response correlation
// over a byte-level transport.
package client
