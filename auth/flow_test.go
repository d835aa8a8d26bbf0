package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/mcphub/auth/callback"
)

// testStore is a minimal in-process TokenStore for flow tests.
type testStore struct {
	mux    sync.Mutex
	tokens map[string]*Tokens
}

func newTestStore() *testStore {
	return &testStore{tokens: map[string]*Tokens{}}
}

func (s *testStore) Store(ctx context.Context, serverID string, tokens *Tokens) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.tokens[serverID] = tokens
	return nil
}

func (s *testStore) Retrieve(ctx context.Context, serverID string) (*Tokens, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.tokens[serverID], nil
}

func (s *testStore) Delete(ctx context.Context, serverID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.tokens, serverID)
	return nil
}

func (s *testStore) List(ctx context.Context) ([]string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	var ids []string
	for id := range s.tokens {
		ids = append(ids, id)
	}
	return ids, nil
}

func newTokenEndpoint(t *testing.T, onForm func(url.Values), response map[string]interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, r.ParseForm())
		if onForm != nil {
			onForm(r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
}

func TestFlow_Exchange(t *testing.T) {
	var form url.Values
	server := newTokenEndpoint(t, func(values url.Values) { form = values }, map[string]interface{}{
		"access_token":  "at-1",
		"token_type":    "Bearer",
		"refresh_token": "rt-1",
		"expires_in":    3600,
		"scope":         "mcp:tools",
	})
	defer server.Close()

	store := newTestStore()
	config := &Config{
		ClientID:       "client-1",
		TokenURL:       server.URL,
		RedirectScheme: "myapp",
		UsePKCE:        true,
		Resource:       "https://mcp.example.com/mcp",
	}
	flow := NewFlow("srv", config, store, callback.New())
	state, err := NewState("srv", true)
	assert.Nil(t, err)

	redirect, _ := url.Parse("myapp://oauth/callback?code=abc&state=" + state.Nonce)
	tokens, err := flow.Exchange(context.Background(), state, redirect)
	assert.Nil(t, err)
	assert.EqualValues(t, "at-1", tokens.AccessToken)
	assert.EqualValues(t, "rt-1", tokens.RefreshToken)
	assert.EqualValues(t, []string{"mcp:tools"}, tokens.Scopes)

	assert.EqualValues(t, "authorization_code", form.Get("grant_type"))
	assert.EqualValues(t, "abc", form.Get("code"))
	assert.EqualValues(t, state.PKCE.Verifier, form.Get("code_verifier"))
	assert.EqualValues(t, "https://mcp.example.com/mcp", form.Get("resource"))
	assert.EqualValues(t, "myapp://oauth/callback", form.Get("redirect_uri"))

	stored, _ := store.Retrieve(context.Background(), "srv")
	assert.NotNil(t, stored)
	assert.EqualValues(t, "at-1", stored.AccessToken)
}

func TestFlow_Exchange_Errors(t *testing.T) {
	flow := NewFlow("srv", &Config{RedirectScheme: "myapp"}, newTestStore(), callback.New())
	state, err := NewState("srv", false)
	assert.Nil(t, err)

	var testCases = []struct {
		description string
		rawURL      string
		expect      error
	}{
		{
			description: "provider denial",
			rawURL:      "myapp://oauth/callback?error=access_denied&error_description=nope&state=" + state.Nonce,
			expect:      ErrAuthorizationDenied,
		},
		{
			description: "state mismatch",
			rawURL:      "myapp://oauth/callback?code=abc&state=other",
			expect:      ErrStateMismatch,
		},
		{
			description: "missing code",
			rawURL:      "myapp://oauth/callback?state=" + state.Nonce,
			expect:      ErrInvalidCallback,
		},
	}
	for _, testCase := range testCases {
		redirect, _ := url.Parse(testCase.rawURL)
		_, err := flow.Exchange(context.Background(), state, redirect)
		assert.ErrorIs(t, err, testCase.expect, testCase.description)
	}
}

func TestFlow_Refresh_PreservesRefreshToken(t *testing.T) {
	var form url.Values
	server := newTokenEndpoint(t, func(values url.Values) { form = values }, map[string]interface{}{
		"access_token": "at-2",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	defer server.Close()

	store := newTestStore()
	expired := time.Now().Add(-time.Hour)
	store.Store(context.Background(), "srv", &Tokens{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    &expired,
		Scopes:       []string{"mcp:tools"},
	})
	flow := NewFlow("srv", &Config{ClientID: "client-1", TokenURL: server.URL, RedirectScheme: "myapp"}, store, callback.New())

	tokens, err := flow.Refresh(context.Background())
	assert.Nil(t, err)
	assert.EqualValues(t, "at-2", tokens.AccessToken)
	assert.EqualValues(t, "rt-1", tokens.RefreshToken, "refresh token retained when response omits one")
	assert.EqualValues(t, []string{"mcp:tools"}, tokens.Scopes)
	assert.EqualValues(t, "refresh_token", form.Get("grant_type"))
	assert.EqualValues(t, "rt-1", form.Get("refresh_token"))
}

func TestFlow_AccessToken(t *testing.T) {
	server := newTokenEndpoint(t, nil, map[string]interface{}{
		"access_token": "at-2",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	defer server.Close()

	store := newTestStore()
	flow := NewFlow("srv", &Config{ClientID: "client-1", TokenURL: server.URL, RedirectScheme: "myapp"}, store, callback.New())

	_, err := flow.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated, "no tokens stored")

	expired := time.Now().Add(-time.Hour)
	store.Store(context.Background(), "srv", &Tokens{AccessToken: "at-1", ExpiresAt: &expired})
	_, err = flow.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated, "expired without refresh token")

	store.Store(context.Background(), "srv", &Tokens{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresAt: &expired})
	token, err := flow.AccessToken(context.Background())
	assert.Nil(t, err)
	assert.EqualValues(t, "at-2", token, "expired token refreshed transparently")

	store.Store(context.Background(), "srv", &Tokens{AccessToken: "at-3"})
	token, err = flow.AccessToken(context.Background())
	assert.Nil(t, err)
	assert.EqualValues(t, "at-3", token, "valid token returned as is")
}

func TestFlow_Authorize(t *testing.T) {
	server := newTokenEndpoint(t, nil, map[string]interface{}{
		"access_token": "at-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	defer server.Close()

	router := callback.New()
	config := &Config{
		ClientID:         "client-1",
		AuthorizationURL: "https://auth.example.com/authorize",
		TokenURL:         server.URL,
		RedirectScheme:   "myapp",
		UsePKCE:          true,
	}
	opener := OpenURLFunc(func(ctx context.Context, authURL string) error {
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		state := parsed.Query().Get("state")
		assert.NotEmpty(t, parsed.Query().Get("code_challenge"))
		assert.EqualValues(t, "S256", parsed.Query().Get("code_challenge_method"))
		go func() {
			matched, err := router.HandleCallback("myapp://oauth/callback?code=abc&state=" + state)
			assert.Nil(t, err)
			assert.True(t, matched)
		}()
		return nil
	})

	flow := NewFlow("srv", config, newTestStore(), router, WithOpener(opener))
	tokens, err := flow.Authorize(context.Background())
	assert.Nil(t, err)
	assert.EqualValues(t, "at-1", tokens.AccessToken)
	assert.EqualValues(t, 0, router.Pending(), "registration consumed")
}

func TestFlow_Authorize_Timeout(t *testing.T) {
	config := &Config{
		ClientID:         "client-1",
		AuthorizationURL: "https://auth.example.com/authorize",
		TokenURL:         "https://auth.example.com/token",
		RedirectScheme:   "myapp",
	}
	opener := OpenURLFunc(func(ctx context.Context, authURL string) error { return nil })
	flow := NewFlow("srv", config, newTestStore(), callback.New(), WithOpener(opener),
		WithCallbackTimeout(20*time.Millisecond))

	_, err := flow.Authorize(context.Background())
	assert.ErrorIs(t, err, ErrAuthorizationCancelled)
}
