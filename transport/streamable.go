package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

const sessionHeader = "Mcp-Session-Id"

// defaultAuthRetries bounds how many times one Send is retried after 401
// responses (refresh first, then the re-authentication collaborator).
const defaultAuthRetries = 2

// Streamable is the HTTP transport: each Send is a POST carrying the
// JSON-RPC body; responses and optional SSE events feed Receive. A
// server-issued session id is captured and echoed on subsequent requests.
type Streamable struct {
	endpoint       string
	headers        map[string]string
	httpClient     *http.Client
	tokens         TokenProvider
	reauth         Reauthorizer
	maxAuthRetries int
	sse            bool
	logger         *slog.Logger

	mux             sync.Mutex
	sessionID       string
	wwwAuthenticate string
	connected       bool
	cancel          context.CancelFunc
	messages        chan []byte
	closed          chan struct{}
}

// StreamableOption configures a Streamable transport.
type StreamableOption func(*Streamable)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) StreamableOption {
	return func(t *Streamable) {
		t.httpClient = client
	}
}

// WithHeaders sets extra headers sent on every request.
func WithHeaders(headers map[string]string) StreamableOption {
	return func(t *Streamable) {
		t.headers = headers
	}
}

// WithTokenProvider attaches a bearer token source.
func WithTokenProvider(tokens TokenProvider) StreamableOption {
	return func(t *Streamable) {
		t.tokens = tokens
	}
}

// WithReauthorizer attaches the collaborator invoked when a token refresh
// does not clear a 401.
func WithReauthorizer(reauth Reauthorizer) StreamableOption {
	return func(t *Streamable) {
		t.reauth = reauth
	}
}

// WithAuthRetries bounds 401 retries per Send.
func WithAuthRetries(retries int) StreamableOption {
	return func(t *Streamable) {
		t.maxAuthRetries = retries
	}
}

// WithSSE enables the background SSE GET stream.
func WithSSE(enabled bool) StreamableOption {
	return func(t *Streamable) {
		t.sse = enabled
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) StreamableOption {
	return func(t *Streamable) {
		t.logger = logger
	}
}

// NewStreamable creates an HTTP transport for the given endpoint.
func NewStreamable(endpoint string, options ...StreamableOption) *Streamable {
	ret := &Streamable{
		endpoint:       endpoint,
		httpClient:     http.DefaultClient,
		maxAuthRetries: defaultAuthRetries,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Connect marks the transport live and starts the SSE loop when enabled.
func (t *Streamable) Connect(ctx context.Context) error {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.connected {
		return nil
	}
	t.messages = make(chan []byte, 64)
	t.closed = make(chan struct{})
	t.connected = true
	if t.sse {
		sseCtx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		go t.listen(sseCtx)
	}
	return nil
}

// Disconnect stops the SSE loop and fails pending receives.
func (t *Streamable) Disconnect(ctx context.Context) error {
	t.mux.Lock()
	defer t.mux.Unlock()
	if !t.connected {
		return nil
	}
	t.connected = false
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	close(t.closed)
	return nil
}

// Send POSTs one message. On 401 the token is refreshed once, then the
// re-authentication collaborator is invoked, bounded by the configured retry
// budget.
func (t *Streamable) Send(ctx context.Context, message []byte) error {
	if !t.isConnected() {
		return ErrNotConnected
	}
	refreshed, reauthorized := false, false
	for attempt := 0; ; attempt++ {
		status, err := t.post(ctx, message)
		if err != nil {
			return err
		}
		if status != http.StatusUnauthorized {
			return t.statusError(status)
		}
		if attempt >= t.maxAuthRetries {
			return fmt.Errorf("%w: %s kept responding 401", ErrAuthenticationRequired, t.endpoint)
		}
		if t.tokens != nil && !refreshed {
			refreshed = true
			if _, err = t.tokens.Refresh(ctx); err == nil {
				continue
			}
			t.logger.Debug("token refresh failed", "endpoint", t.endpoint, "error", err)
		}
		if t.reauth != nil && !reauthorized {
			reauthorized = true
			if err = t.reauth.Reauthorize(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrAuthenticationRequired, err)
			}
			continue
		}
		return fmt.Errorf("%w: %s responded 401", ErrAuthenticationRequired, t.endpoint)
	}
}

// Receive returns the next inbound message: a POST response body or an SSE
// event, whichever arrives first.
func (t *Streamable) Receive(ctx context.Context) ([]byte, error) {
	t.mux.Lock()
	messages, closed := t.messages, t.closed
	t.mux.Unlock()
	if messages == nil {
		return nil, ErrNotConnected
	}
	select {
	case message := <-messages:
		return message, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case message := <-messages:
		return message, nil
	case <-closed:
		return nil, ErrClosed
	}
}

// SessionID returns the server-issued session id, if any.
func (t *Streamable) SessionID() string {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.sessionID
}

// WWWAuthenticate returns the most recent WWW-Authenticate challenge.
func (t *Streamable) WWWAuthenticate() string {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.wwwAuthenticate
}

func (t *Streamable) post(ctx context.Context, message []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(message))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.decorate(ctx, req)
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request to %s failed: %w", t.endpoint, err)
	}
	if session := resp.Header.Get(sessionHeader); session != "" {
		t.setSession(session)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		t.mux.Lock()
		t.wwwAuthenticate = resp.Header.Get("WWW-Authenticate")
		t.mux.Unlock()
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.consume(resp)
		return resp.StatusCode, nil
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// consume routes a successful response body into the receive stream.
func (t *Streamable) consume(resp *http.Response) {
	if resp.StatusCode == http.StatusAccepted || resp.ContentLength == 0 {
		resp.Body.Close()
		return
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		go func() {
			defer resp.Body.Close()
			scanEvents(resp.Body, t.deliver)
		}()
		return
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
	resp.Body.Close()
	if err == nil && len(bytes.TrimSpace(data)) > 0 {
		t.deliver(data)
	}
}

func (t *Streamable) deliver(message []byte) {
	select {
	case t.messages <- message:
	case <-t.closed:
	}
}

func (t *Streamable) decorate(ctx context.Context, req *http.Request) {
	for name, value := range t.headers {
		req.Header.Set(name, value)
	}
	if t.tokens != nil {
		if token, err := t.tokens.AccessToken(ctx); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if session := t.SessionID(); session != "" {
		req.Header.Set(sessionHeader, session)
	}
}

// statusError maps a response status to a transport error. A 404 while a
// session id is set clears it and reports session expiry.
func (t *Streamable) statusError(status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if status == http.StatusNotFound {
		t.mux.Lock()
		hadSession := t.sessionID != ""
		t.sessionID = ""
		t.mux.Unlock()
		if hadSession {
			return fmt.Errorf("%w: %s no longer recognizes the session", ErrSessionExpired, t.endpoint)
		}
	}
	return newStatusError(status)
}

func (t *Streamable) setSession(session string) {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.sessionID = session
}

func (t *Streamable) isConnected() bool {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.connected
}
