package mcphub

import (
	"fmt"
	"time"

	"github.com/viant/mcp-protocol/schema"
)

// StateKind discriminates ConnectionState variants.
type StateKind string

const (
	StateIdle           StateKind = "idle"
	StateConnecting     StateKind = "connecting"
	StateAuthenticating StateKind = "authenticating"
	StateConnected      StateKind = "connected"
	StateFailed         StateKind = "failed"
	StateReconnecting   StateKind = "reconnecting"
	StateDisconnected   StateKind = "disconnected"
)

// ConnectionState is one connection's live state. Exactly one value exists
// per connection at a time; every transition emits an event.
type ConnectionState struct {
	Kind StateKind

	// authenticating
	Progress string
	// connected
	Tools []schema.Tool
	// failed
	Message    string
	RetryCount int
	// reconnecting
	Attempt     int
	MaxAttempts int
	NextRetryAt time.Time
}

// Terminal reports whether the state won't change without further external
// action.
func (s ConnectionState) Terminal() bool {
	switch s.Kind {
	case StateConnected, StateFailed, StateDisconnected:
		return true
	}
	return false
}

// retryCount derives the retry counter carried into the next failure.
func (s ConnectionState) retryCount() int {
	switch s.Kind {
	case StateFailed:
		return s.RetryCount
	case StateReconnecting:
		return s.Attempt
	}
	return 0
}

func (s ConnectionState) String() string {
	switch s.Kind {
	case StateConnected:
		return fmt.Sprintf("connected(%d tools)", len(s.Tools))
	case StateFailed:
		return fmt.Sprintf("failed(%s, retry %d)", s.Message, s.RetryCount)
	case StateReconnecting:
		return fmt.Sprintf("reconnecting(%d/%d at %s)", s.Attempt, s.MaxAttempts, s.NextRetryAt.Format(time.RFC3339))
	case StateAuthenticating:
		return fmt.Sprintf("authenticating(%s)", s.Progress)
	default:
		return string(s.Kind)
	}
}

// Idle is the initial state.
func Idle() ConnectionState { return ConnectionState{Kind: StateIdle} }

// Connecting marks a connect in flight.
func Connecting() ConnectionState { return ConnectionState{Kind: StateConnecting} }

// Authenticating marks a connect waiting on user authorization.
func Authenticating(progress string) ConnectionState {
	return ConnectionState{Kind: StateAuthenticating, Progress: progress}
}

// Connected carries the freshly listed tools.
func Connected(tools []schema.Tool) ConnectionState {
	return ConnectionState{Kind: StateConnected, Tools: tools}
}

// Failed carries a human-readable message and the retry counter.
func Failed(message string, retryCount int) ConnectionState {
	return ConnectionState{Kind: StateFailed, Message: message, RetryCount: retryCount}
}

// Reconnecting carries the attempt schedule set by the coordinator.
func Reconnecting(attempt, maxAttempts int, nextRetryAt time.Time) ConnectionState {
	return ConnectionState{Kind: StateReconnecting, Attempt: attempt, MaxAttempts: maxAttempts, NextRetryAt: nextRetryAt}
}

// Disconnected is the state after an explicit disconnect.
func Disconnected() ConnectionState { return ConnectionState{Kind: StateDisconnected} }
