package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// maxMessageSize bounds a single framed message in either direction.
const maxMessageSize = 10 * 1024 * 1024

var (
	// ErrNotConnected fails operations invoked before Connect or after
	// Disconnect.
	ErrNotConnected = errors.New("transport not connected")
	// ErrClosed reports that the underlying stream ended.
	ErrClosed = errors.New("transport closed")
	// ErrAuthenticationRequired surfaces when a server keeps responding 401
	// after the configured refresh and retry budget is spent.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrSessionExpired reports a 404 received while a session id was set;
	// the stale session id has already been cleared.
	ErrSessionExpired = errors.New("session expired")
)

// Transport moves opaque JSON-RPC payloads between the client and one
// server. Receive realizes the inbound message stream one message per call;
// implementations back it with a channel fed by their read loop.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, message []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// TokenProvider supplies bearer tokens for authenticated transports.
type TokenProvider interface {
	// AccessToken returns a valid access token, refreshing transparently.
	AccessToken(ctx context.Context) (string, error)
	// Refresh forces a refresh and returns the new access token.
	Refresh(ctx context.Context) (string, error)
}

// Reauthorizer is invoked when a refresh did not clear a 401, typically to
// prompt the user through a full authorization flow.
type Reauthorizer interface {
	Reauthorize(ctx context.Context) error
}

// ReauthorizeFunc adapts a function to the Reauthorizer interface.
type ReauthorizeFunc func(ctx context.Context) error

func (f ReauthorizeFunc) Reauthorize(ctx context.Context) error { return f(ctx) }

// StatusError is a non-2xx HTTP response translated into a transport error.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func newStatusError(code int) *StatusError {
	message := http.StatusText(code)
	switch {
	case code == http.StatusBadRequest:
		message = "malformed request"
	case code == http.StatusForbidden:
		message = "access forbidden"
	case code == http.StatusNotFound:
		message = "endpoint not found"
	case code == http.StatusTooManyRequests:
		message = "rate limited"
	case code >= 500:
		message = "server error"
	}
	return &StatusError{Code: code, Message: message}
}
