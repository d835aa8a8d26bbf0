package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// PKCE carries one authorization attempt's proof key (RFC 7636).
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE generates a 32-byte random verifier and its S256 challenge.
func NewPKCE() (*PKCE, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	return &PKCE{Verifier: verifier, Challenge: CodeChallengeS256(verifier)}, nil
}

// CodeChallengeS256 returns base64url(SHA-256(verifier)) without padding,
// so the result never contains '+', '/' or '='.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
