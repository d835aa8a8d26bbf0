package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/viant/jsonrpc"
	"github.com/viant/mcp-protocol/schema"
	"github.com/viant/mcphub/internal/collection"
	"github.com/viant/mcphub/transport"
)

var errUninitialized = errors.New("client is not initialized")

// Client speaks MCP over a byte transport: it owns the request id counter,
// correlates responses to pending calls through a read loop, and answers
// unsupported server-to-client requests with a method-not-found error.
type Client struct {
	info            schema.Implementation
	capabilities    schema.ClientCapabilities
	protocolVersion string
	transport       transport.Transport
	logger          *slog.Logger
	onNotification  NotificationHandler

	counter     atomic.Uint64
	pending     *collection.SyncMap[uint64, chan *jsonrpc.Response]
	initialized atomic.Bool

	mux      sync.Mutex
	result   *schema.InitializeResult
	cancel   context.CancelFunc
	done     chan struct{}
	closeErr error
}

// New creates a client over the supplied transport.
func New(name, version string, aTransport transport.Transport, options ...Option) *Client {
	ret := &Client{
		info:      *schema.NewImplementation(name, version),
		transport: aTransport,
		pending:   collection.NewSyncMap[uint64, chan *jsonrpc.Response](),
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(ret)
	}
	if ret.protocolVersion == "" {
		ret.protocolVersion = schema.LatestProtocolVersion
	}
	return ret
}

// Initialize connects the transport, runs the initialize handshake and
// acknowledges it with the initialized notification.
func (c *Client) Initialize(ctx context.Context) (*schema.InitializeResult, error) {
	if err := c.transport.Connect(ctx); err != nil {
		return nil, err
	}
	readCtx, cancel := context.WithCancel(context.Background())
	c.mux.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mux.Unlock()
	go c.readLoop(readCtx)

	params := &schema.InitializeRequestParams{
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
		ProtocolVersion: c.protocolVersion,
	}
	result, err := call[schema.InitializeRequestParams, schema.InitializeResult](ctx, c, schema.MethodInitialize, params)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	if err = c.notify(ctx, schema.MethodNotificationInitialized, nil); err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("failed to notify initialized: %w", err)
	}
	c.mux.Lock()
	c.result = result
	c.mux.Unlock()
	c.initialized.Store(true)
	return result, nil
}

// Initialized reports whether the handshake completed.
func (c *Client) Initialized() bool {
	return c.initialized.Load()
}

// ServerInfo returns the initialize result, nil before the handshake.
func (c *Client) ServerInfo() *schema.InitializeResult {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.result
}

// ListTools returns one page of the server's tools.
func (c *Client) ListTools(ctx context.Context, cursor *string) (*schema.ListToolsResult, error) {
	params := &schema.ListToolsRequestParams{Cursor: cursor}
	return send[schema.ListToolsRequestParams, schema.ListToolsResult](ctx, c, schema.MethodToolsList, params)
}

// ListAllTools follows pagination cursors until the full tool set is
// collected.
func (c *Client) ListAllTools(ctx context.Context) ([]schema.Tool, error) {
	var tools []schema.Tool
	var cursor *string
	for {
		result, err := c.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		tools = append(tools, result.Tools...)
		if result.NextCursor == nil || *result.NextCursor == "" {
			return tools, nil
		}
		cursor = result.NextCursor
	}
}

// CallTool invokes one tool and returns its result.
func (c *Client) CallTool(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
	return send[schema.CallToolRequestParams, schema.CallToolResult](ctx, c, schema.MethodToolsCall, params)
}

// Ping checks server liveness.
func (c *Client) Ping(ctx context.Context) (*schema.PingResult, error) {
	return send[schema.PingRequestParams, schema.PingResult](ctx, c, schema.MethodPing, &schema.PingRequestParams{})
}

// cancelledParams is the notifications/cancelled payload.
type cancelledParams struct {
	RequestId uint64 `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// Cancel sends a best-effort cancellation notification for an in-flight
// request.
func (c *Client) Cancel(ctx context.Context, requestID uint64, reason string) error {
	return c.notify(ctx, schema.MethodNotificationCancel, &cancelledParams{RequestId: requestID, Reason: reason})
}

// NextRequestID reserves a request id, letting callers cancel a call they
// are about to make.
func (c *Client) NextRequestID() uint64 {
	return c.counter.Add(1)
}

// CallToolWithID invokes a tool under a caller-reserved request id.
func (c *Client) CallToolWithID(ctx context.Context, id uint64, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
	if !c.initialized.Load() {
		return nil, errUninitialized
	}
	return callWithID[schema.CallToolRequestParams, schema.CallToolResult](ctx, c, id, schema.MethodToolsCall, params)
}

// Done is closed when the read loop ends, whether through Close or a
// transport failure. It is nil before Initialize.
func (c *Client) Done() <-chan struct{} {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.done
}

// Err reports why the read loop ended, nil while it is still running.
func (c *Client) Err() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.closeErr
}

// Close stops the read loop and disconnects the transport.
func (c *Client) Close(ctx context.Context) error {
	c.initialized.Store(false)
	c.mux.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mux.Unlock()
	if cancel != nil {
		cancel()
	}
	return c.transport.Disconnect(ctx)
}

func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	notification, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, data)
}

// readLoop dispatches every inbound message until the transport ends; a
// stream failure fails all pending calls.
func (c *Client) readLoop(ctx context.Context) {
	for {
		message, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: client closed", transport.ErrClosed)
			}
			c.mux.Lock()
			c.closeErr = err
			done := c.done
			c.mux.Unlock()
			close(done)
			return
		}
		c.dispatch(ctx, message)
	}
}

// envelope probes a message's shape before full decoding.
type envelope struct {
	Method string          `json:"method"`
	Id     json.RawMessage `json:"id"`
}

func (c *Client) dispatch(ctx context.Context, message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Debug("dropping malformed message", "error", err)
		return
	}
	switch {
	case env.Method == "":
		c.dispatchResponse(message)
	case len(env.Id) > 0 && string(env.Id) != "null":
		c.rejectRequest(ctx, message)
	default:
		c.dispatchNotification(ctx, message)
	}
}

func (c *Client) dispatchResponse(message []byte) {
	response := &jsonrpc.Response{}
	if err := json.Unmarshal(message, response); err != nil {
		c.logger.Debug("dropping malformed response", "error", err)
		return
	}
	id, ok := asRequestID(response.Id)
	if !ok {
		c.logger.Debug("dropping response with unusable id", "id", response.Id)
		return
	}
	if waiting, ok := c.pending.Take(id); ok {
		waiting <- response
		return
	}
	c.logger.Debug("dropping unmatched response", "id", id)
}

// rejectRequest answers a server-to-client request; this client implements
// no server-initiated operations.
func (c *Client) rejectRequest(ctx context.Context, message []byte) {
	request := &jsonrpc.Request{}
	if err := json.Unmarshal(message, request); err != nil {
		return
	}
	response := &jsonrpc.Response{
		Jsonrpc: jsonrpc.Version,
		Id:      request.Id,
		Error:   jsonrpc.NewMethodNotFound(fmt.Sprintf("method %s not found", request.Method), nil),
	}
	data, err := json.Marshal(response)
	if err != nil {
		return
	}
	if err = c.transport.Send(ctx, data); err != nil {
		c.logger.Debug("failed to reject request", "method", request.Method, "error", err)
	}
}

func (c *Client) dispatchNotification(ctx context.Context, message []byte) {
	notification := &jsonrpc.Notification{}
	if err := json.Unmarshal(message, notification); err != nil {
		return
	}
	if c.onNotification != nil {
		c.onNotification(ctx, notification)
		return
	}
	c.logger.Debug("notification", "method", notification.Method)
}

func send[P any, R any](ctx context.Context, client *Client, method string, parameters *P) (*R, error) {
	if !client.initialized.Load() {
		return nil, errUninitialized
	}
	return call[P, R](ctx, client, method, parameters)
}

func call[P any, R any](ctx context.Context, client *Client, method string, parameters *P) (*R, error) {
	return callWithID[P, R](ctx, client, client.counter.Add(1), method, parameters)
}

func callWithID[P any, R any](ctx context.Context, client *Client, id uint64, method string, parameters *P) (*R, error) {
	req, err := jsonrpc.NewRequest(method, parameters)
	if err != nil {
		return nil, jsonrpc.NewInvalidRequest(err.Error(), nil)
	}
	req.Id = id
	data, err := json.Marshal(req)
	if err != nil {
		return nil, jsonrpc.NewInvalidRequest(err.Error(), nil)
	}
	waiting := make(chan *jsonrpc.Response, 1)
	client.pending.Put(id, waiting)
	defer client.pending.Delete(id)

	if err = client.transport.Send(ctx, data); err != nil {
		return nil, err
	}
	client.mux.Lock()
	done := client.done
	client.mux.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		client.mux.Lock()
		closeErr := client.closeErr
		client.mux.Unlock()
		return nil, closeErr
	case response := <-waiting:
		if response.Error != nil {
			return nil, response.Error
		}
		var result R
		if err = json.Unmarshal(response.Result, &result); err != nil {
			return nil, jsonrpc.NewInternalError(fmt.Sprintf("failed to unmarshal %s result: %v", method, err), nil)
		}
		return &result, nil
	}
}

// asRequestID normalizes a decoded JSON-RPC id to the client's counter
// space.
func asRequestID(value interface{}) (uint64, bool) {
	switch actual := value.(type) {
	case float64:
		if actual < 0 {
			return 0, false
		}
		return uint64(actual), true
	case int:
		return uint64(actual), true
	case int64:
		return uint64(actual), true
	case uint64:
		return actual, true
	case json.Number:
		parsed, err := actual.Int64()
		if err != nil {
			return 0, false
		}
		return uint64(parsed), true
	default:
		return 0, false
	}
}
