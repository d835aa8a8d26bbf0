package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/viant/mcphub/auth"
	"github.com/viant/mcphub/auth/callback"
	"golang.org/x/sync/singleflight"
)

// AutoAuth wraps a Streamable transport with on-demand OAuth: when a send
// exhausts the 401 budget it runs discovery, dynamic registration and the
// authorization flow, then retries the original send exactly once.
// Concurrent senders share a single authorization attempt.
type AutoAuth struct {
	id             string
	endpoint       string
	redirectScheme string
	clientName     string
	store          auth.TokenStore
	router         *callback.Router
	httpClient     *http.Client
	logger         *slog.Logger
	flowOptions    []auth.FlowOption

	transportOptions []StreamableOption
	transport        *Streamable
	group            singleflight.Group

	mux    sync.Mutex
	flow   *auth.Flow
	closed bool
}

// AutoAuthOption configures an AutoAuth transport.
type AutoAuthOption func(*AutoAuth)

// WithAuthHTTPClient overrides the HTTP client used for discovery,
// registration and token endpoints.
func WithAuthHTTPClient(client *http.Client) AutoAuthOption {
	return func(t *AutoAuth) {
		t.httpClient = client
	}
}

// WithAuthLogger attaches a structured logger.
func WithAuthLogger(logger *slog.Logger) AutoAuthOption {
	return func(t *AutoAuth) {
		t.logger = logger
	}
}

// WithFlowOptions forwards options to the authorization flow (opener,
// callback timeout).
func WithFlowOptions(options ...auth.FlowOption) AutoAuthOption {
	return func(t *AutoAuth) {
		t.flowOptions = options
	}
}

// WithStreamableOptions forwards options to the wrapped HTTP transport.
func WithStreamableOptions(options ...StreamableOption) AutoAuthOption {
	return func(t *AutoAuth) {
		t.transportOptions = options
	}
}

// NewAutoAuth creates an auto-authorizing transport for an MCP endpoint.
// The OAuth configuration is discovered from the server's first 401.
func NewAutoAuth(id, endpoint, redirectScheme, clientName string, store auth.TokenStore, router *callback.Router, options ...AutoAuthOption) *AutoAuth {
	ret := &AutoAuth{
		id:             id,
		endpoint:       endpoint,
		redirectScheme: redirectScheme,
		clientName:     clientName,
		store:          store,
		router:         router,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(ret)
	}
	transportOptions := append([]StreamableOption{
		WithTokenProvider(ret),
		WithAuthRetries(1),
		WithLogger(ret.logger),
	}, ret.transportOptions...)
	if ret.httpClient != nil {
		transportOptions = append(transportOptions, WithHTTPClient(ret.httpClient))
	}
	ret.transport = NewStreamable(endpoint, transportOptions...)
	return ret
}

// NewOAuth creates an auto-authorizing transport with a static OAuth
// configuration, skipping metadata discovery and registration.
func NewOAuth(id, endpoint string, config *auth.Config, store auth.TokenStore, router *callback.Router, options ...AutoAuthOption) *AutoAuth {
	ret := NewAutoAuth(id, endpoint, config.RedirectScheme, config.ClientName, store, router, options...)
	flowOptions := ret.flowOptions
	if ret.httpClient != nil {
		flowOptions = append([]auth.FlowOption{auth.WithHTTPClient(ret.httpClient)}, flowOptions...)
	}
	ret.flow = auth.NewFlow(id, config, store, router, flowOptions...)
	return ret
}

// Connect connects the wrapped transport and registers this transport with
// the callback router.
func (t *AutoAuth) Connect(ctx context.Context) error {
	if err := t.transport.Connect(ctx); err != nil {
		return err
	}
	t.mux.Lock()
	t.closed = false
	t.mux.Unlock()
	t.router.RegisterHandler(t.id, t)
	return nil
}

// Disconnect tears down the wrapped transport and invalidates the callback
// registration.
func (t *AutoAuth) Disconnect(ctx context.Context) error {
	t.mux.Lock()
	t.closed = true
	t.mux.Unlock()
	t.router.UnregisterHandler(t.id)
	return t.transport.Disconnect(ctx)
}

// Send forwards to the wrapped transport; an authentication-required
// failure triggers the authorization flow and one retry.
func (t *AutoAuth) Send(ctx context.Context, message []byte) error {
	err := t.transport.Send(ctx, message)
	if !errors.Is(err, ErrAuthenticationRequired) {
		return err
	}
	if authErr := t.authorize(ctx); authErr != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticationRequired, authErr)
	}
	return t.transport.Send(ctx, message)
}

// Receive forwards to the wrapped transport.
func (t *AutoAuth) Receive(ctx context.Context) ([]byte, error) {
	return t.transport.Receive(ctx)
}

// AccessToken implements TokenProvider for the wrapped transport.
func (t *AutoAuth) AccessToken(ctx context.Context) (string, error) {
	flow := t.currentFlow()
	if flow == nil {
		return "", auth.ErrNotAuthenticated
	}
	return flow.AccessToken(ctx)
}

// Refresh implements TokenProvider for the wrapped transport.
func (t *AutoAuth) Refresh(ctx context.Context) (string, error) {
	flow := t.currentFlow()
	if flow == nil {
		return "", auth.ErrNotAuthenticated
	}
	tokens, err := flow.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// Accept implements callback.Handler: redirects that did not match a
// state-keyed waiter are offered to the pending attempt.
func (t *AutoAuth) Accept(redirect *url.URL) bool {
	flow := t.currentFlow()
	if flow == nil {
		return false
	}
	return flow.DeliverCallback(redirect)
}

// Closed implements callback.Handler.
func (t *AutoAuth) Closed() bool {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.closed
}

// Cancel aborts a pending authorization attempt, if any.
func (t *AutoAuth) Cancel() {
	if flow := t.currentFlow(); flow != nil {
		flow.Cancel()
	}
}

// authorize runs (or joins) one shared authorization attempt.
func (t *AutoAuth) authorize(ctx context.Context) error {
	_, err, _ := t.group.Do("authorize", func() (interface{}, error) {
		flow, err := t.ensureFlow(ctx)
		if err != nil {
			return nil, err
		}
		// another caller may have finished authorizing already
		if _, err = flow.AccessToken(ctx); err == nil {
			return nil, nil
		}
		t.logger.Info("starting oauth authorization", "serverID", t.id, "endpoint", t.endpoint)
		_, err = flow.Authorize(ctx)
		return nil, err
	})
	return err
}

// ensureFlow lazily builds the flow from discovered metadata and dynamic
// registration. A server without a registration endpoint is a hard error:
// configure a client id manually via NewOAuth.
func (t *AutoAuth) ensureFlow(ctx context.Context) (*auth.Flow, error) {
	if flow := t.currentFlow(); flow != nil {
		return flow, nil
	}
	discovery, err := auth.Discover(ctx, t.endpoint, t.transport.WWWAuthenticate(), t.httpClient)
	if err != nil {
		return nil, err
	}
	if !discovery.Server.SupportsRegistration() {
		return nil, fmt.Errorf("%w: %s advertises no registration endpoint, configure a client id manually",
			auth.ErrRegistrationUnsupported, discovery.Server.Issuer)
	}
	redirectURI := (&auth.Config{RedirectScheme: t.redirectScheme}).RedirectURI()
	scope := strings.Join(discovery.Resource.ScopesSupported, " ")
	registration, err := auth.Register(ctx, discovery.Server, redirectURI, t.clientName, scope, t.httpClient)
	if err != nil {
		return nil, err
	}
	config := auth.NewConfig(discovery, registration, t.redirectScheme, t.clientName)
	flowOptions := t.flowOptions
	if t.httpClient != nil {
		flowOptions = append([]auth.FlowOption{auth.WithHTTPClient(t.httpClient)}, flowOptions...)
	}
	flow := auth.NewFlow(t.id, config, t.store, t.router, flowOptions...)
	t.mux.Lock()
	t.flow = flow
	t.mux.Unlock()
	return flow, nil
}

func (t *AutoAuth) currentFlow() *auth.Flow {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.flow
}
