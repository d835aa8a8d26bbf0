package mcphub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/mcp-protocol/schema"
)

// fakeClient satisfies ToolClient for state machine tests.
type fakeClient struct {
	initErr  error
	listErr  error
	tools    []schema.Tool
	callErr  error
	result   *schema.CallToolResult
	callWait time.Duration
	counter  atomic.Uint64
	done     chan struct{}
	doneErr  error

	mux       sync.Mutex
	cancelled []uint64
	cancelErr error
	closed    bool
}

func newFakeClient(tools ...schema.Tool) *fakeClient {
	return &fakeClient{tools: tools, done: make(chan struct{})}
}

func (f *fakeClient) Initialize(ctx context.Context) (*schema.InitializeResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &schema.InitializeResult{}, nil
}

func (f *fakeClient) ListAllTools(ctx context.Context) ([]schema.Tool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeClient) NextRequestID() uint64 { return f.counter.Add(1) }

func (f *fakeClient) CallToolWithID(ctx context.Context, id uint64, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
	if f.callWait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.callWait):
		}
	}
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

func (f *fakeClient) Cancel(ctx context.Context, requestID uint64, reason string) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, requestID)
	return nil
}

func (f *fakeClient) cancelledIDs() []uint64 {
	f.mux.Lock()
	defer f.mux.Unlock()
	return append([]uint64(nil), f.cancelled...)
}

func (f *fakeClient) Ping(ctx context.Context) (*schema.PingResult, error) {
	return &schema.PingResult{}, nil
}

func (f *fakeClient) Done() <-chan struct{} { return f.done }
func (f *fakeClient) Err() error            { return f.doneErr }

func (f *fakeClient) Close(ctx context.Context) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.closed = true
	return nil
}

func staticFactory(aClient ToolClient, err error) ClientFactory {
	return func(ctx context.Context, spec *ServerSpec) (ToolClient, error) {
		return aClient, err
	}
}

func drainEvents(connection *Connection) []Event {
	var ret []Event
	for {
		select {
		case event := <-connection.Events():
			ret = append(ret, event)
		default:
			return ret
		}
	}
}

func TestConnection_Connect(t *testing.T) {
	aClient := newFakeClient(schema.Tool{Name: "search"}, schema.Tool{Name: "fetch"})
	connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(aClient, nil), nil)
	assert.EqualValues(t, StateIdle, connection.State().Kind)

	err := connection.Connect(context.Background())
	assert.Nil(t, err)
	assert.EqualValues(t, StateConnected, connection.State().Kind)
	assert.EqualValues(t, 2, len(connection.Tools()))

	var kinds []StateKind
	for _, event := range drainEvents(connection) {
		if event.Kind == EventStateChanged {
			kinds = append(kinds, event.State.Kind)
		}
	}
	assert.EqualValues(t, []StateKind{StateConnecting, StateConnected}, kinds)
}

func TestConnection_Connect_NoOpWhenConnected(t *testing.T) {
	aClient := newFakeClient(schema.Tool{Name: "search"})
	connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(aClient, nil), nil)
	assert.Nil(t, connection.Connect(context.Background()))
	drainEvents(connection)

	assert.Nil(t, connection.Connect(context.Background()))
	assert.Empty(t, drainEvents(connection), "connect while connected must not transition")
}

func TestConnection_Connect_Failure(t *testing.T) {
	testCases := []struct {
		description string
		client      *fakeClient
		factoryErr  error
	}{
		{
			description: "factory failure",
			factoryErr:  errors.New("command not found"),
		},
		{
			description: "initialize failure",
			client:      &fakeClient{initErr: errors.New("handshake rejected"), done: make(chan struct{})},
		},
		{
			description: "list tools failure",
			client:      &fakeClient{listErr: errors.New("tools unavailable"), done: make(chan struct{})},
		},
	}
	for _, testCase := range testCases {
		connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(testCase.client, testCase.factoryErr), nil)
		err := connection.Connect(context.Background())
		assert.NotNil(t, err, testCase.description)
		state := connection.State()
		assert.EqualValues(t, StateFailed, state.Kind, testCase.description)
		assert.EqualValues(t, 1, state.RetryCount, testCase.description)
		if testCase.client != nil {
			assert.True(t, testCase.client.closed, testCase.description)
		}

		// a later attempt carries the incremented retry counter
		err = connection.Connect(context.Background())
		assert.NotNil(t, err, testCase.description)
		assert.EqualValues(t, 2, connection.State().RetryCount, testCase.description)
	}
}

func TestConnection_AuthenticatingState(t *testing.T) {
	spec := NewAutoAuthSpec("remote", "https://mcp.example.com/mcp", "myapp", "myapp")
	var observed []StateKind
	factory := func(ctx context.Context, s *ServerSpec) (ToolClient, error) {
		return newFakeClient(), nil
	}
	connection := NewConnection(spec, factory, nil)
	assert.Nil(t, connection.Connect(context.Background()))
	for _, event := range drainEvents(connection) {
		if event.Kind == EventStateChanged {
			observed = append(observed, event.State.Kind)
		}
	}
	assert.EqualValues(t, []StateKind{StateConnecting, StateAuthenticating, StateConnected}, observed)
}

func TestConnection_DisconnectWinsOverInFlightConnect(t *testing.T) {
	aClient := newFakeClient(schema.Tool{Name: "query"})
	release := make(chan struct{})
	factory := func(ctx context.Context, spec *ServerSpec) (ToolClient, error) {
		<-release
		return aClient, nil
	}
	connection := NewConnection(NewStdioSpec("local", "server"), factory, nil)
	done := make(chan error, 1)
	go func() { done <- connection.Connect(context.Background()) }()
	assert.Eventually(t, func() bool {
		return connection.State().Kind == StateConnecting
	}, time.Second, time.Millisecond)

	assert.Nil(t, connection.Disconnect(context.Background()))
	close(release)
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatal("connect did not return")
	}
	assert.EqualValues(t, StateDisconnected, connection.State().Kind, "disconnect wins over the in-flight connect")
	assert.True(t, aClient.closed, "superseded client must be torn down")
	_, err := connection.CallTool(context.Background(), "query", nil)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestConnection_FailureDoesNotOverrideDisconnect(t *testing.T) {
	release := make(chan struct{})
	factory := func(ctx context.Context, spec *ServerSpec) (ToolClient, error) {
		<-release
		return nil, errors.New("command not found")
	}
	connection := NewConnection(NewStdioSpec("local", "server"), factory, nil)
	done := make(chan error, 1)
	go func() { done <- connection.Connect(context.Background()) }()
	assert.Eventually(t, func() bool {
		return connection.State().Kind == StateConnecting
	}, time.Second, time.Millisecond)

	assert.Nil(t, connection.Disconnect(context.Background()))
	close(release)
	select {
	case err := <-done:
		assert.NotNil(t, err)
	case <-time.After(time.Second):
		t.Fatal("connect did not return")
	}
	assert.EqualValues(t, StateDisconnected, connection.State().Kind)
}

func TestConnection_ReconnectClosesPreviousClient(t *testing.T) {
	first := newFakeClient(schema.Tool{Name: "query"})
	second := newFakeClient(schema.Tool{Name: "query"})
	second.result = &schema.CallToolResult{}
	remaining := []*fakeClient{first, second}
	factory := func(ctx context.Context, spec *ServerSpec) (ToolClient, error) {
		next := remaining[0]
		remaining = remaining[1:]
		return next, nil
	}
	connection := NewConnection(NewStdioSpec("local", "server"), factory, nil)
	assert.Nil(t, connection.Connect(context.Background()))

	connection.MarkReconnecting(1, 5, time.Now())
	assert.True(t, first.closed, "previous client must be closed before it is replaced")
	assert.Nil(t, connection.Connect(context.Background()))
	assert.EqualValues(t, StateConnected, connection.State().Kind)
	assert.False(t, second.closed)
	_, err := connection.CallTool(context.Background(), "query", nil)
	assert.Nil(t, err)
}

func TestConnection_Disconnect(t *testing.T) {
	aClient := newFakeClient()
	connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(aClient, nil), nil)
	assert.Nil(t, connection.Connect(context.Background()))
	assert.Nil(t, connection.Disconnect(context.Background()))
	assert.EqualValues(t, StateDisconnected, connection.State().Kind)
	assert.True(t, aClient.closed)
	assert.Nil(t, connection.Tools())
}

func TestConnection_CallTool(t *testing.T) {
	aClient := newFakeClient(schema.Tool{Name: "search"})
	aClient.result = &schema.CallToolResult{}
	connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(aClient, nil), nil)
	assert.Nil(t, connection.Connect(context.Background()))
	drainEvents(connection)

	result, err := connection.CallTool(context.Background(), "search", map[string]interface{}{"q": "golang"})
	assert.Nil(t, err)
	assert.NotNil(t, result)

	events := drainEvents(connection)
	assert.EqualValues(t, 2, len(events))
	assert.EqualValues(t, EventToolCallStarted, events[0].Kind)
	assert.EqualValues(t, "search", events[0].ToolName)
	assert.EqualValues(t, EventToolCallCompleted, events[1].Kind)
	assert.True(t, events[1].Success)
	assert.EqualValues(t, events[0].RequestID, events[1].RequestID)
}

func TestConnection_CallTool_NotConnected(t *testing.T) {
	connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(newFakeClient(), nil), nil)
	_, err := connection.CallTool(context.Background(), "search", nil)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestConnection_CallTool_CancelsOnContextError(t *testing.T) {
	aClient := newFakeClient()
	aClient.callWait = time.Second
	connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(aClient, nil), nil)
	assert.Nil(t, connection.Connect(context.Background()))
	drainEvents(connection)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := connection.CallTool(ctx, "slow", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.EqualValues(t, []uint64{1}, aClient.cancelledIDs(), "server should be told the call was abandoned")
}

func TestConnection_CancelToolCall_WarnsOnFailure(t *testing.T) {
	aClient := newFakeClient()
	aClient.cancelErr = errors.New("pipe closed")
	connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(aClient, nil), nil)
	assert.Nil(t, connection.Connect(context.Background()))
	drainEvents(connection)

	connection.CancelToolCall(context.Background(), 7, true)
	events := drainEvents(connection)
	assert.EqualValues(t, 2, len(events))
	assert.EqualValues(t, EventWarning, events[0].Kind)
	assert.Contains(t, events[0].Message, "pipe closed")
	assert.EqualValues(t, EventToolCallCancelled, events[1].Kind)
	assert.True(t, events[1].UserRequested)
	assert.EqualValues(t, 7, events[1].RequestID)
}

func TestConnection_StreamEndBecomesFailed(t *testing.T) {
	aClient := newFakeClient()
	aClient.doneErr = errors.New("broken pipe")
	connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(aClient, nil), nil)
	assert.Nil(t, connection.Connect(context.Background()))

	close(aClient.done)
	assert.Eventually(t, func() bool {
		return connection.State().Kind == StateFailed
	}, time.Second, 10*time.Millisecond)
	state := connection.State()
	assert.Contains(t, state.Message, "broken pipe")
	assert.EqualValues(t, 1, state.RetryCount)
}

func TestConnection_StreamEndIgnoredAfterDisconnect(t *testing.T) {
	aClient := newFakeClient()
	connection := NewConnection(NewStdioSpec("local", "server"), staticFactory(aClient, nil), nil)
	assert.Nil(t, connection.Connect(context.Background()))
	assert.Nil(t, connection.Disconnect(context.Background()))

	close(aClient.done)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, StateDisconnected, connection.State().Kind)
}
