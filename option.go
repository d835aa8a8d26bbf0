package mcphub

import (
	"log/slog"
	"time"

	"github.com/viant/mcphub/auth"
	"github.com/viant/mcphub/auth/callback"
)

// Option customises a coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger shared by the coordinator and its
// connections.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithClientFactory substitutes how protocol clients are built, mainly for
// testing.
func WithClientFactory(factory ClientFactory) Option {
	return func(c *Coordinator) {
		c.factory = factory
	}
}

// WithRouter shares an externally owned callback router.
func WithRouter(router *callback.Router) Option {
	return func(c *Coordinator) {
		c.router = router
	}
}

// WithStore sets the token store backing authenticated servers; defaults to
// an in-memory store.
func WithStore(store auth.TokenStore) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithOpener sets how authorization URLs reach the user.
func WithOpener(opener auth.URLOpener) Option {
	return func(c *Coordinator) {
		c.opener = opener
	}
}

// WithPollInterval tunes the StartAllAndWait polling cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Coordinator) {
		c.pollInterval = interval
	}
}

// WithPollCeiling bounds how many polling iterations StartAllAndWait runs
// before declaring the stragglers timed out.
func WithPollCeiling(iterations int) Option {
	return func(c *Coordinator) {
		c.pollCeiling = iterations
	}
}

// WithMaxReconnects bounds per-server reconnect attempts.
func WithMaxReconnects(max int) Option {
	return func(c *Coordinator) {
		c.maxReconnects = max
	}
}
