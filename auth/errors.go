package auth

import "errors"

var (
	// ErrNotAuthenticated indicates no usable tokens exist for a server.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAuthorizationDenied indicates the authorization server or the user
	// rejected the authorization request.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrStateMismatch indicates the callback state did not match the nonce
	// generated for the in-flight authorization attempt.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrInvalidCallback indicates a callback URL without code or error.
	ErrInvalidCallback = errors.New("invalid oauth callback")
	// ErrAuthorizationCancelled indicates the flow was cancelled before a
	// callback arrived.
	ErrAuthorizationCancelled = errors.New("authorization cancelled")
	// ErrNoAuthorizationServers indicates resource metadata listing no
	// authorization servers.
	ErrNoAuthorizationServers = errors.New("resource metadata lists no authorization servers")
	// ErrRegistrationUnsupported indicates the authorization server does not
	// advertise a registration endpoint; configure a client id manually.
	ErrRegistrationUnsupported = errors.New("authorization server does not support dynamic client registration: configure client_id manually")
)
