package mcphub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/viant/mcp-protocol/schema"
	"github.com/viant/mcphub/auth"
	"github.com/viant/mcphub/auth/callback"
	"github.com/viant/mcphub/auth/store"
	"github.com/viant/mcphub/internal/collection"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval  = 100 * time.Millisecond
	defaultPollCeiling   = 300 // 30s at the default interval
	defaultMaxReconnects = 5
	mergedEventBuffer    = 512
)

// Coordinator owns a set of named connections: it starts them in parallel,
// merges their event streams, enforces per-call timeouts and drives
// reconnection.
type Coordinator struct {
	factory       ClientFactory
	logger        *slog.Logger
	router        *callback.Router
	store         auth.TokenStore
	opener        auth.URLOpener
	pollInterval  time.Duration
	pollCeiling   int
	maxReconnects int

	connections *collection.SyncMap[string, *Connection]
	retries     *collection.SyncMap[string, *backoff.ExponentialBackOff]
	events      chan Event

	pumps     sync.WaitGroup
	closeOnce sync.Once

	mux    sync.Mutex
	cancel context.CancelFunc
	runCtx context.Context
}

// StartFailure names a server that did not reach connected.
type StartFailure struct {
	ID      string
	Message string
}

// StartResult partitions servers after StartAllAndWait.
type StartResult struct {
	Connected []string
	Failed    []StartFailure
}

// New creates a coordinator.
func New(options ...Option) *Coordinator {
	ret := &Coordinator{
		logger:        slog.Default(),
		router:        callback.New(),
		store:         store.NewMemoryStore(),
		opener:        &auth.BrowserOpener{},
		pollInterval:  defaultPollInterval,
		pollCeiling:   defaultPollCeiling,
		maxReconnects: defaultMaxReconnects,
		connections:   collection.NewSyncMap[string, *Connection](),
		retries:       collection.NewSyncMap[string, *backoff.ExponentialBackOff](),
		events:        make(chan Event, mergedEventBuffer),
	}
	for _, opt := range options {
		opt(ret)
	}
	if ret.factory == nil {
		ret.factory = ret.defaultFactory
	}
	runCtx, cancel := context.WithCancel(context.Background())
	ret.runCtx = runCtx
	ret.cancel = cancel
	return ret
}

// Router returns the callback router; wire the host application's URL-open
// handler to it.
func (c *Coordinator) Router() *callback.Router { return c.router }

// HandleCallback delivers an OAuth redirect URL to whichever flow awaits
// it.
func (c *Coordinator) HandleCallback(rawURL string) (bool, error) {
	return c.router.HandleCallback(rawURL)
}

// Events exposes the merged event stream of all connections.
func (c *Coordinator) Events() <-chan Event { return c.events }

// Connection returns a connection by id.
func (c *Coordinator) Connection(id string) (*Connection, bool) {
	return c.connections.Get(id)
}

// StartAll creates and connects every spec concurrently; it does not wait
// for the connects to settle.
func (c *Coordinator) StartAll(ctx context.Context, specs []*ServerSpec) error {
	group := &errgroup.Group{}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return err
		}
		connection := c.adopt(spec)
		group.Go(func() error {
			connection.Connect(ctx) // failures land in the failed state
			return nil
		})
	}
	go group.Wait()
	return nil
}

// StartAllAndWait starts every spec and polls at a fixed interval until
// each connection reaches a terminal state or the ceiling elapses; servers
// still settling at the ceiling are reported as timed-out failures.
func (c *Coordinator) StartAllAndWait(ctx context.Context, specs []*ServerSpec) (*StartResult, error) {
	if err := c.StartAll(ctx, specs); err != nil {
		return nil, err
	}
	settled := map[string]bool{}
	for iteration := 0; iteration < c.pollCeiling; iteration++ {
		allTerminal := true
		for _, spec := range specs {
			if settled[spec.ID] {
				continue
			}
			connection, _ := c.connections.Get(spec.ID)
			if connection.State().Terminal() {
				settled[spec.ID] = true
				continue
			}
			allTerminal = false
		}
		if allTerminal {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	result := &StartResult{}
	for _, spec := range specs {
		connection, _ := c.connections.Get(spec.ID)
		state := connection.State()
		switch {
		case state.Kind == StateConnected:
			result.Connected = append(result.Connected, spec.ID)
		case state.Terminal():
			result.Failed = append(result.Failed, StartFailure{ID: spec.ID, Message: state.Message})
		default:
			result.Failed = append(result.Failed, StartFailure{ID: spec.ID,
				Message: fmt.Sprintf("timed out waiting for connection, still %s", state.Kind)})
		}
	}
	return result, nil
}

// Reconnect marks the connection reconnecting with a backoff-scheduled next
// retry, waits for that moment and re-invokes connect.
func (c *Coordinator) Reconnect(ctx context.Context, id string) error {
	connection, ok := c.connections.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	attempt := connection.State().retryCount() + 1
	if attempt > c.maxReconnects {
		return fmt.Errorf("%w: %s after %d attempts", ErrReconnectExhausted, id, c.maxReconnects)
	}
	policy := c.retryPolicy(id)
	delay := policy.NextBackOff()
	nextRetryAt := time.Now().Add(delay)
	connection.MarkReconnecting(attempt, c.maxReconnects, nextRetryAt)
	c.logger.Info("reconnecting", "serverID", id, "attempt", attempt, "nextRetryAt", nextRetryAt)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}
	if err := connection.Connect(ctx); err != nil {
		return err
	}
	policy.Reset()
	return nil
}

// CallTool invokes a tool on one server. A positive timeout races the call
// against a timer and cancels the loser.
func (c *Coordinator) CallTool(ctx context.Context, id, name string, args map[string]interface{}, timeout time.Duration) (*schema.CallToolResult, error) {
	connection, ok := c.connections.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	if timeout <= 0 {
		return connection.CallTool(ctx, name, args)
	}

	callCtx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()
	type outcome struct {
		result *schema.CallToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := connection.CallTool(callCtx, name, args)
		done <- outcome{result: result, err: err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		cancelCall()
		return nil, fmt.Errorf("%w: %s on %s after %s", ErrToolTimeout, name, id, timeout)
	}
}

// CancelToolCall broadcasts a cancellation to every connection; call to
// connection ownership is not tracked.
func (c *Coordinator) CancelToolCall(ctx context.Context, requestID uint64, userRequested bool) {
	c.connections.Range(func(id string, connection *Connection) bool {
		connection.CancelToolCall(ctx, requestID, userRequested)
		return true
	})
}

// StopAll disconnects everything, stops the event pumps and closes the
// merged event stream so consumers ranging over Events terminate.
func (c *Coordinator) StopAll(ctx context.Context) error {
	group := &errgroup.Group{}
	c.connections.Range(func(id string, connection *Connection) bool {
		group.Go(func() error {
			return connection.Disconnect(ctx)
		})
		return true
	})
	err := group.Wait()

	c.mux.Lock()
	cancel := c.cancel
	c.mux.Unlock()
	if cancel != nil {
		cancel()
	}
	c.closeOnce.Do(func() {
		c.pumps.Wait()
		close(c.events)
	})
	return err
}

// adopt registers a connection for the spec, reusing an existing one, and
// pumps its events into the merged stream.
func (c *Coordinator) adopt(spec *ServerSpec) *Connection {
	if existing, ok := c.connections.Get(spec.ID); ok {
		return existing
	}
	connection := NewConnection(spec, c.factory, c.logger)
	c.connections.Put(spec.ID, connection)
	// a stopped coordinator's merged stream is closed; forward nothing
	if c.runCtx.Err() == nil {
		c.pumps.Add(1)
		go c.pump(connection)
	}
	return connection
}

func (c *Coordinator) pump(connection *Connection) {
	defer c.pumps.Done()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case event := <-connection.Events():
			select {
			case c.events <- event:
			default:
				c.logger.Debug("dropping event, merged stream full", "serverID", event.ServerID)
			}
		}
	}
}

func (c *Coordinator) retryPolicy(id string) *backoff.ExponentialBackOff {
	if policy, ok := c.retries.Get(id); ok {
		return policy
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // bounded by maxReconnects, not wall clock
	c.retries.Put(id, policy)
	return policy
}
