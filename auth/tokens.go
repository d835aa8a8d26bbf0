package auth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// expirySkew treats tokens as expired one minute early so in-flight
// requests never present a credential that lapses mid-call.
const expirySkew = time.Minute

// Tokens is the persisted token record for one server. The configured
// TokenStore owns it; it is overwritten on every exchange or refresh and
// deleted on logout.
type Tokens struct {
	AccessToken  string     `json:"accessToken"`
	TokenType    string     `json:"tokenType"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
	ObtainedAt   time.Time  `json:"obtainedAt"`
}

// IsExpired reports whether now+60s has reached the expiry. Tokens without
// an expiry never expire.
func (t *Tokens) IsExpired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !time.Now().Add(expirySkew).Before(*t.ExpiresAt)
}

// CanRefresh reports whether a refresh token is available.
func (t *Tokens) CanRefresh() bool {
	return t.RefreshToken != ""
}

// OAuth2 adapts the record to an oauth2.Token for refresh token sources.
func (t *Tokens) OAuth2() *oauth2.Token {
	ret := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresAt != nil {
		ret.Expiry = *t.ExpiresAt
	}
	return ret
}

// NewTokens converts a token-endpoint response. When the response omits a
// scope the supplied fallback scopes are recorded instead.
func NewTokens(token *oauth2.Token, fallbackScopes []string) *Tokens {
	ret := &Tokens{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Scopes:       fallbackScopes,
		ObtainedAt:   time.Now(),
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		ret.ExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		ret.Scopes = strings.Fields(scope)
	}
	return ret
}
