package mcphub

import "errors"

var (
	// ErrNotConnected fails tool calls on a connection that is not in the
	// connected state.
	ErrNotConnected = errors.New("server not connected")
	// ErrUnknownServer fails operations addressed to an id the coordinator
	// does not hold.
	ErrUnknownServer = errors.New("unknown server")
	// ErrToolTimeout fails a tool call that lost the race against its
	// timeout.
	ErrToolTimeout = errors.New("tool call timed out")
	// ErrReconnectExhausted reports that the reconnect budget is spent.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
