package mcphub

import "time"

// EventKind discriminates connection lifecycle events.
type EventKind string

const (
	EventStateChanged      EventKind = "stateChanged"
	EventToolCallStarted   EventKind = "toolCallStarted"
	EventToolCallCompleted EventKind = "toolCallCompleted"
	EventToolCallCancelled EventKind = "toolCallCancelled"
	EventWarning           EventKind = "warning"
)

// Event is one entry in a connection's ordered lifecycle stream. The
// coordinator merges per-connection streams without any cross-connection
// ordering guarantee.
type Event struct {
	ServerID string
	Kind     EventKind
	At       time.Time

	// stateChanged
	State ConnectionState
	// tool call events
	ToolName      string
	RequestID     uint64
	Success       bool
	Duration      time.Duration
	UserRequested bool
	// warning
	Message string
}
