package mcphub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viant/mcp-protocol/schema"
)

// eventBuffer bounds each connection's event stream; events beyond it are
// dropped rather than blocking the state machine.
const eventBuffer = 128

// ToolClient is the protocol surface a connection drives. *client.Client
// satisfies it; tests substitute fakes.
type ToolClient interface {
	Initialize(ctx context.Context) (*schema.InitializeResult, error)
	ListAllTools(ctx context.Context) ([]schema.Tool, error)
	NextRequestID() uint64
	CallToolWithID(ctx context.Context, id uint64, params *schema.CallToolRequestParams) (*schema.CallToolResult, error)
	Cancel(ctx context.Context, requestID uint64, reason string) error
	Ping(ctx context.Context) (*schema.PingResult, error)
	Done() <-chan struct{}
	Err() error
	Close(ctx context.Context) error
}

// ClientFactory builds the protocol client for one server spec.
type ClientFactory func(ctx context.Context, spec *ServerSpec) (ToolClient, error)

// Connection is the per-server state machine. It owns its state exclusively
// and serializes transitions internally; all transitions emit an event.
type Connection struct {
	spec    *ServerSpec
	factory ClientFactory
	logger  *slog.Logger
	events  chan Event

	mux    sync.Mutex
	state  ConnectionState
	client ToolClient
}

// NewConnection creates a connection in the idle state.
func NewConnection(spec *ServerSpec, factory ClientFactory, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		spec:    spec,
		factory: factory,
		logger:  logger,
		events:  make(chan Event, eventBuffer),
		state:   Idle(),
	}
}

// Spec returns the immutable server description.
func (c *Connection) Spec() *ServerSpec { return c.spec }

// State returns the current state.
func (c *Connection) State() ConnectionState {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.state
}

// Tools returns the cached tool list, empty unless connected.
func (c *Connection) Tools() []schema.Tool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.state.Kind != StateConnected {
		return nil
	}
	return c.state.Tools
}

// Events exposes the connection's ordered lifecycle stream.
func (c *Connection) Events() <-chan Event { return c.events }

// Connect runs one connect attempt: a no-op unless the state is idle,
// failed or reconnecting. On success the tool list is replaced wholesale;
// any failure lands in failed with an incremented retry count.
func (c *Connection) Connect(ctx context.Context) error {
	c.mux.Lock()
	switch c.state.Kind {
	case StateIdle, StateFailed, StateReconnecting:
	default:
		c.mux.Unlock()
		return nil
	}
	retries := c.state.retryCount()
	c.transition(Connecting())
	c.mux.Unlock()

	if c.spec.Authenticated() {
		c.advance(Authenticating("waiting for authorization"))
	}
	aClient, err := c.factory(ctx, c.spec)
	if err != nil {
		return c.fail(fmt.Errorf("failed to create client: %w", err), retries)
	}
	if _, err = aClient.Initialize(ctx); err != nil {
		aClient.Close(context.Background())
		return c.fail(fmt.Errorf("initialize failed: %w", err), retries)
	}
	tools, err := aClient.ListAllTools(ctx)
	if err != nil {
		aClient.Close(context.Background())
		return c.fail(fmt.Errorf("failed to list tools: %w", err), retries)
	}

	c.mux.Lock()
	if !c.owns() {
		// a disconnect raced this attempt and wins
		c.mux.Unlock()
		c.logger.Debug("connect superseded", "serverID", c.spec.ID)
		return aClient.Close(context.Background())
	}
	c.client = aClient
	c.transition(Connected(tools))
	c.mux.Unlock()
	c.logger.Info("server connected", "serverID", c.spec.ID, "tools", len(tools))
	go c.watch(aClient, retries)
	return nil
}

// Disconnect tears down the client and moves to disconnected from any
// state.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mux.Lock()
	aClient := c.client
	c.client = nil
	c.transition(Disconnected())
	c.mux.Unlock()
	if aClient != nil {
		return aClient.Close(ctx)
	}
	return nil
}

// CallTool invokes a tool on a connected server, emitting started and
// completed events with the call's wall-clock duration.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]interface{}) (*schema.CallToolResult, error) {
	c.mux.Lock()
	if c.state.Kind != StateConnected {
		kind := c.state.Kind
		c.mux.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotConnected, c.spec.ID, kind)
	}
	aClient := c.client
	c.mux.Unlock()

	requestID := aClient.NextRequestID()
	c.emit(Event{Kind: EventToolCallStarted, ToolName: name, RequestID: requestID})
	started := time.Now()
	result, err := aClient.CallToolWithID(ctx, requestID, &schema.CallToolRequestParams{Name: name, Arguments: args})
	duration := time.Since(started)
	c.emit(Event{Kind: EventToolCallCompleted, ToolName: name, RequestID: requestID, Success: err == nil, Duration: duration})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// the caller gave up; tell the server, best effort
			c.CancelToolCall(context.Background(), requestID, false)
		}
		return nil, err
	}
	return result, nil
}

// CancelToolCall is best-effort: the cancellation notification may fail
// (demoted to a warning event), but the cancelled event always fires.
func (c *Connection) CancelToolCall(ctx context.Context, requestID uint64, userRequested bool) {
	c.mux.Lock()
	aClient := c.client
	c.mux.Unlock()
	if aClient != nil {
		reason := "cancelled"
		if userRequested {
			reason = "user requested cancellation"
		}
		if err := aClient.Cancel(ctx, requestID, reason); err != nil {
			c.logger.Warn("failed to send cancellation", "serverID", c.spec.ID, "requestID", requestID, "error", err)
			c.emit(Event{Kind: EventWarning, RequestID: requestID,
				Message: fmt.Sprintf("failed to send cancellation: %v", err)})
		}
	}
	c.emit(Event{Kind: EventToolCallCancelled, RequestID: requestID, UserRequested: userRequested})
}

// MarkReconnecting is the coordinator-only transition preceding a
// re-connect; a still-live client is torn down before it is replaced.
func (c *Connection) MarkReconnecting(attempt, maxAttempts int, nextRetryAt time.Time) {
	c.mux.Lock()
	aClient := c.client
	c.client = nil
	c.transition(Reconnecting(attempt, maxAttempts, nextRetryAt))
	c.mux.Unlock()
	if aClient != nil {
		aClient.Close(context.Background())
	}
}

// watch turns a transport stream ending into a failed state instead of a
// silent drop.
func (c *Connection) watch(aClient ToolClient, retries int) {
	<-aClient.Done()
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.client != aClient || c.state.Kind != StateConnected {
		return // superseded by disconnect or reconnect
	}
	message := "connection closed"
	if err := aClient.Err(); err != nil {
		message = err.Error()
	}
	c.client = nil
	c.transition(Failed(message, retries+1))
	c.logger.Warn("server connection lost", "serverID", c.spec.ID, "error", message)
}

func (c *Connection) fail(err error, retries int) error {
	if c.advance(Failed(err.Error(), retries+1)) {
		c.logger.Warn("server connect failed", "serverID", c.spec.ID, "error", err)
	}
	return err
}

// owns reports whether the in-flight connect attempt still drives the
// state; requires c.mux held.
func (c *Connection) owns() bool {
	return c.state.Kind == StateConnecting || c.state.Kind == StateAuthenticating
}

// advance applies a connect-attempt transition unless a disconnect has
// superseded the attempt.
func (c *Connection) advance(state ConnectionState) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if !c.owns() {
		return false
	}
	c.transition(state)
	return true
}

// transition requires c.mux held.
func (c *Connection) transition(state ConnectionState) {
	c.state = state
	c.emit(Event{Kind: EventStateChanged, State: state})
}

func (c *Connection) emit(event Event) {
	event.ServerID = c.spec.ID
	event.At = time.Now()
	select {
	case c.events <- event:
	default:
		c.logger.Debug("dropping event, stream full", "serverID", c.spec.ID, "kind", event.Kind)
	}
}
