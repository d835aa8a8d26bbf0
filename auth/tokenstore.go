package auth

import "context"

// TokenStore is a pluggable persistence layer for per-server token records.
// Retrieve returns (nil, nil) when no record exists. Implementations must be
// safe for concurrent use; no caller-level locking is taken around them.
// The store sub-package ships memory, file and encrypted backends.
type TokenStore interface {
	Store(ctx context.Context, serverID string, tokens *Tokens) error
	Retrieve(ctx context.Context, serverID string) (*Tokens, error)
	Delete(ctx context.Context, serverID string) error
	List(ctx context.Context) ([]string, error)
}
