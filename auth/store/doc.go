// Package store provides TokenStore backends: an in-memory store for tests
// and short-lived CLIs, a JSON file store built on viant/afs, and an
// encrypted store built on viant/scy for tokens that must not rest in
// plaintext.
package store
