package client

import (
	"context"
	"log/slog"

	"github.com/viant/jsonrpc"
	"github.com/viant/mcp-protocol/schema"
)

// NotificationHandler receives server-initiated notifications.
type NotificationHandler func(ctx context.Context, notification *jsonrpc.Notification)

// Option represents a client option
type Option func(*Client)

// WithCapabilities sets client capabilities advertised on initialize.
func WithCapabilities(capabilities schema.ClientCapabilities) Option {
	return func(c *Client) {
		c.capabilities = capabilities
	}
}

// WithProtocolVersion overrides the negotiated protocol version.
func WithProtocolVersion(version string) Option {
	return func(c *Client) {
		c.protocolVersion = version
	}
}

// WithNotificationHandler registers a handler for server notifications.
func WithNotificationHandler(handler NotificationHandler) Option {
	return func(c *Client) {
		c.onNotification = handler
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
