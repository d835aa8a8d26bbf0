package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/viant/mcphub/auth/callback"
	"golang.org/x/oauth2"
)

// Flow drives one server's OAuth 2.0 authorization lifecycle: building the
// authorization URL, waiting for the redirect, exchanging the code,
// refreshing and persisting tokens. A Flow serializes its own authorization
// attempts; concurrent callers queue on it.
type Flow struct {
	serverID        string
	config          *Config
	store           TokenStore
	router          *callback.Router
	opener          URLOpener
	httpClient      *http.Client
	callbackTimeout time.Duration
	logger          *slog.Logger

	authMux sync.Mutex // serializes Authorize attempts

	mux          sync.Mutex // guards pending registration
	pending      *callback.Waiter
	pendingState *State
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithHTTPClient overrides the HTTP client used for token endpoints.
func WithHTTPClient(client *http.Client) FlowOption {
	return func(f *Flow) {
		f.httpClient = client
	}
}

// WithOpener overrides how the authorization URL reaches the user agent.
func WithOpener(opener URLOpener) FlowOption {
	return func(f *Flow) {
		f.opener = opener
	}
}

// WithCallbackTimeout overrides how long an authorization attempt waits for
// its redirect.
func WithCallbackTimeout(timeout time.Duration) FlowOption {
	return func(f *Flow) {
		f.callbackTimeout = timeout
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) FlowOption {
	return func(f *Flow) {
		f.logger = logger
	}
}

// NewFlow creates a Flow for one server.
func NewFlow(serverID string, config *Config, store TokenStore, router *callback.Router, options ...FlowOption) *Flow {
	ret := &Flow{
		serverID: serverID,
		config:   config,
		store:    store,
		router:   router,
		opener:   &BrowserOpener{},
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Config returns the flow's immutable OAuth configuration.
func (f *Flow) Config() *Config { return f.config }

// AuthorizationURL builds the authorization endpoint URL for one attempt.
func (f *Flow) AuthorizationURL(state *State) string {
	cfg := f.config.oauth2Config()
	var opts []oauth2.AuthCodeOption
	if len(f.config.Scopes) > 0 {
		// override the space-joined default with the configured separator
		opts = append(opts, oauth2.SetAuthURLParam("scope", f.config.Scope()))
	}
	if state.PKCE != nil {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", state.PKCE.Challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"))
	}
	for name, value := range f.config.ExtraParams {
		opts = append(opts, oauth2.SetAuthURLParam(name, value))
	}
	return cfg.AuthCodeURL(state.Nonce, opts...)
}

// Authorize runs one interactive authorization attempt end to end: it
// registers the state with the callback router before the URL is opened,
// blocks for the redirect and exchanges the code. A failed attempt aborts
// only itself.
func (f *Flow) Authorize(ctx context.Context) (*Tokens, error) {
	f.authMux.Lock()
	defer f.authMux.Unlock()

	state, err := NewState(f.serverID, f.config.UsePKCE)
	if err != nil {
		return nil, err
	}
	waiter := f.router.Register(state.Nonce, f.serverID, f.callbackTimeout)
	f.setPending(waiter, state)
	defer f.setPending(nil, nil)

	URL := f.AuthorizationURL(state)
	if err = f.opener.OpenURL(ctx, URL); err != nil {
		waiter.Cancel(err)
		return nil, fmt.Errorf("failed to open authorization URL: %w", err)
	}
	f.logger.Debug("waiting for oauth callback", "serverID", f.serverID)

	redirect, err := waiter.Wait(ctx)
	if err != nil {
		if errors.Is(err, callback.ErrCancelled) {
			return nil, fmt.Errorf("%w: %v", ErrAuthorizationCancelled, err)
		}
		return nil, err
	}
	return f.Exchange(ctx, state, redirect)
}

// Exchange validates a redirect against the attempt's state record and
// exchanges its code at the token endpoint, persisting the result.
func (f *Flow) Exchange(ctx context.Context, state *State, redirect *url.URL) (*Tokens, error) {
	query := redirect.Query()
	if errCode := query.Get("error"); errCode != "" {
		description := query.Get("error_description")
		if description == "" {
			description = errCode
		}
		return nil, fmt.Errorf("%w: %s", ErrAuthorizationDenied, description)
	}
	if query.Get("state") != state.Nonce {
		return nil, ErrStateMismatch
	}
	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing code parameter", ErrInvalidCallback)
	}

	var opts []oauth2.AuthCodeOption
	if state.PKCE != nil {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", state.PKCE.Verifier))
	}
	if f.config.Resource != "" {
		// RFC 8707 resource indicator carrying the original server URL
		opts = append(opts, oauth2.SetAuthURLParam("resource", f.config.Resource))
	}
	token, err := f.config.oauth2Config().Exchange(f.httpContext(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	tokens := NewTokens(token, f.config.Scopes)
	if err = f.store.Store(ctx, f.serverID, tokens); err != nil {
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}
	return tokens, nil
}

// Refresh exchanges the stored refresh token for a new access token. When
// the response omits a refresh token the previous one is retained.
func (f *Flow) Refresh(ctx context.Context) (*Tokens, error) {
	previous, err := f.store.Retrieve(ctx, f.serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	if previous == nil || !previous.CanRefresh() {
		return nil, ErrNotAuthenticated
	}
	source := f.config.oauth2Config().TokenSource(f.httpContext(ctx),
		&oauth2.Token{RefreshToken: previous.RefreshToken})
	refreshed, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = previous.RefreshToken
	}
	tokens := NewTokens(refreshed, previous.Scopes)
	if err = f.store.Store(ctx, f.serverID, tokens); err != nil {
		return nil, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}
	return tokens, nil
}

// AccessToken returns the current access token, refreshing transparently
// when it is expired and refreshable.
func (f *Flow) AccessToken(ctx context.Context) (string, error) {
	tokens, err := f.store.Retrieve(ctx, f.serverID)
	if err != nil {
		return "", fmt.Errorf("failed to load tokens: %w", err)
	}
	if tokens == nil {
		return "", ErrNotAuthenticated
	}
	if !tokens.IsExpired() {
		return tokens.AccessToken, nil
	}
	if tokens.CanRefresh() {
		refreshed, err := f.Refresh(ctx)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}
	return "", ErrNotAuthenticated
}

// Logout deletes the server's persisted tokens.
func (f *Flow) Logout(ctx context.Context) error {
	return f.store.Delete(ctx, f.serverID)
}

// DeliverCallback hands a redirect directly to the pending attempt; used by
// transport-scoped callback handlers when state lookup did not match. The
// redirect is still validated against the attempt's state during exchange.
func (f *Flow) DeliverCallback(redirect *url.URL) bool {
	f.mux.Lock()
	pending, state := f.pending, f.pendingState
	f.mux.Unlock()
	if pending == nil || state == nil {
		return false
	}
	if nonce := redirect.Query().Get("state"); nonce != "" && nonce != state.Nonce {
		return false
	}
	pending.Deliver(redirect)
	return true
}

// Cancel fails a pending authorization attempt, if any, and discards its
// state record.
func (f *Flow) Cancel() {
	f.mux.Lock()
	pending := f.pending
	f.pending = nil
	f.pendingState = nil
	f.mux.Unlock()
	if pending != nil {
		pending.Cancel(ErrAuthorizationCancelled)
	}
}

func (f *Flow) setPending(waiter *callback.Waiter, state *State) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.pending = waiter
	f.pendingState = state
}

// httpContext injects the flow's HTTP client into oauth2 calls.
func (f *Flow) httpContext(ctx context.Context) context.Context {
	if f.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}
