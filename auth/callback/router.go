package callback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a state registration may wait for its
// redirect before self-expiring; the only defense against registrations
// leaked by abandoned flows.
const DefaultTimeout = 300 * time.Second

// ErrCancelled fails a waiter whose registration was cancelled or expired.
var ErrCancelled = errors.New("callback registration cancelled")

// Handler accepts callbacks on behalf of a transport-owned authorization.
type Handler interface {
	// Accept consumes the callback if it belongs to this handler's
	// in-flight authorization attempt.
	Accept(callback *url.URL) bool
	// Closed reports that the backing connection has been torn down; closed
	// handlers are pruned on the next dispatch.
	Closed() bool
}

type outcome struct {
	callback *url.URL
	err      error
}

// Waiter is one pending state registration. It resolves exactly once: on a
// matching callback, an explicit cancel, or deadline expiry.
type Waiter struct {
	state        string
	serverID     string
	registeredAt time.Time
	router       *Router
	timer        *time.Timer
	once         sync.Once
	ch           chan outcome
}

// ServerID returns the server the registration belongs to.
func (w *Waiter) ServerID() string { return w.serverID }

// Wait blocks until the callback arrives, the registration resolves with an
// error, or ctx is done.
func (w *Waiter) Wait(ctx context.Context) (*url.URL, error) {
	select {
	case <-ctx.Done():
		w.Cancel(ctx.Err())
		return nil, ctx.Err()
	case out := <-w.ch:
		return out.callback, out.err
	}
}

// Cancel resolves the waiter with err (ErrCancelled when err is nil) and
// removes its registration.
func (w *Waiter) Cancel(err error) {
	if err == nil {
		err = ErrCancelled
	}
	w.resolve(outcome{err: err})
}

// Deliver resolves the waiter with a callback URL directly, bypassing the
// router's state lookup.
func (w *Waiter) Deliver(callback *url.URL) {
	w.resolve(outcome{callback: callback})
}

func (w *Waiter) resolve(out outcome) {
	w.once.Do(func() {
		w.timer.Stop()
		w.router.remove(w.state)
		w.ch <- out
	})
}

type handlerEntry struct {
	id      string
	handler Handler
}

// Router owns callback dispatch for one application. All methods are safe
// for concurrent use.
type Router struct {
	mux      sync.Mutex
	states   map[string]*Waiter
	handlers []handlerEntry
	timeout  time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithTimeout overrides the default state registration deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Router) {
		r.timeout = timeout
	}
}

// New creates a Router.
func New(options ...Option) *Router {
	ret := &Router{
		states:  map[string]*Waiter{},
		timeout: DefaultTimeout,
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Register records a state-keyed waiter. Call it before opening the
// authorization URL so an immediate redirect cannot race the registration.
// A non-positive timeout falls back to the router default.
func (r *Router) Register(state, serverID string, timeout time.Duration) *Waiter {
	if timeout <= 0 {
		timeout = r.timeout
	}
	waiter := &Waiter{
		state:        state,
		serverID:     serverID,
		registeredAt: time.Now(),
		router:       r,
		ch:           make(chan outcome, 1),
	}
	waiter.timer = time.AfterFunc(timeout, func() {
		waiter.Cancel(fmt.Errorf("%w: no callback within %s", ErrCancelled, timeout))
	})
	r.mux.Lock()
	r.states[state] = waiter
	r.mux.Unlock()
	return waiter
}

// RegisterHandler records a transport-owned handler under an explicit id;
// handlers are consulted only when no state-keyed waiter matches.
func (r *Router) RegisterHandler(id string, handler Handler) {
	r.mux.Lock()
	defer r.mux.Unlock()
	for i, entry := range r.handlers {
		if entry.id == id {
			r.handlers[i].handler = handler
			return
		}
	}
	r.handlers = append(r.handlers, handlerEntry{id: id, handler: handler})
}

// UnregisterHandler removes a transport handler registration.
func (r *Router) UnregisterHandler(id string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	for i, entry := range r.handlers {
		if entry.id == id {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

// HandleCallback dispatches a redirect URL: a state-keyed waiter wins, then
// each registered handler is tried in order (pruning closed ones). The
// return value reports whether any handler matched.
func (r *Router) HandleCallback(rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("invalid callback URL %q: %w", rawURL, err)
	}
	state := parsed.Query().Get("state")
	if waiter := r.take(state); waiter != nil {
		waiter.resolve(outcome{callback: parsed})
		return true, nil
	}
	for _, entry := range r.snapshotHandlers() {
		if entry.handler.Closed() {
			r.UnregisterHandler(entry.id)
			continue
		}
		if entry.handler.Accept(parsed) {
			return true, nil
		}
	}
	return false, nil
}

// Pending returns the number of live state registrations.
func (r *Router) Pending() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return len(r.states)
}

func (r *Router) take(state string) *Waiter {
	if state == "" {
		return nil
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	waiter, ok := r.states[state]
	if !ok {
		return nil
	}
	delete(r.states, state)
	return waiter
}

func (r *Router) remove(state string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	delete(r.states, state)
}

func (r *Router) snapshotHandlers() []handlerEntry {
	r.mux.Lock()
	defer r.mux.Unlock()
	ret := make([]handlerEntry, len(r.handlers))
	copy(ret, r.handlers)
	return ret
}
