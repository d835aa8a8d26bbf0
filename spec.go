package mcphub

import (
	"fmt"

	"github.com/viant/mcphub/auth"
)

// SpecType discriminates how a server is reached.
type SpecType string

const (
	// SpecStdio spawns a subprocess speaking newline-delimited JSON-RPC.
	SpecStdio SpecType = "stdio"
	// SpecHTTP talks streamable HTTP, optionally with static headers.
	SpecHTTP SpecType = "http"
	// SpecOAuth talks streamable HTTP with a static OAuth configuration.
	SpecOAuth SpecType = "oauth"
	// SpecAutoAuth talks streamable HTTP, discovering the OAuth
	// configuration from the server's first 401.
	SpecAutoAuth SpecType = "autoAuth"
)

// ServerSpec is the immutable description of how to reach one server. It is
// created by the caller before coordinator startup and never mutated.
type ServerSpec struct {
	ID   string   `yaml:"id" json:"id"`
	Name string   `yaml:"name,omitempty" json:"name,omitempty"`
	Type SpecType `yaml:"type" json:"type"`

	// stdio
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// http family
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	SSE     bool              `yaml:"sse,omitempty" json:"sse,omitempty"`

	// oauth
	OAuth *auth.Config `yaml:"oauth,omitempty" json:"oauth,omitempty"`

	// autoAuth
	RedirectScheme string `yaml:"redirectScheme,omitempty" json:"redirectScheme,omitempty"`
	ClientName     string `yaml:"clientName,omitempty" json:"clientName,omitempty"`
}

// DisplayName returns the name, falling back to the id.
func (s *ServerSpec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Authenticated reports whether connecting may require user authorization.
func (s *ServerSpec) Authenticated() bool {
	return s.Type == SpecOAuth || s.Type == SpecAutoAuth
}

// Validate checks the variant's required fields.
func (s *ServerSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("server spec is missing an id")
	}
	switch s.Type {
	case SpecStdio:
		if s.Command == "" {
			return fmt.Errorf("stdio server %s is missing a command", s.ID)
		}
	case SpecHTTP:
		if s.URL == "" {
			return fmt.Errorf("http server %s is missing a url", s.ID)
		}
	case SpecOAuth:
		if s.URL == "" {
			return fmt.Errorf("oauth server %s is missing a url", s.ID)
		}
		if s.OAuth == nil {
			return fmt.Errorf("oauth server %s is missing an oauth configuration", s.ID)
		}
	case SpecAutoAuth:
		if s.URL == "" {
			return fmt.Errorf("autoAuth server %s is missing a url", s.ID)
		}
		if s.RedirectScheme == "" {
			return fmt.Errorf("autoAuth server %s is missing a redirect scheme", s.ID)
		}
	default:
		return fmt.Errorf("server %s has unknown type %q", s.ID, s.Type)
	}
	return nil
}

// NewStdioSpec describes a subprocess server.
func NewStdioSpec(id, command string, args ...string) *ServerSpec {
	return &ServerSpec{ID: id, Type: SpecStdio, Command: command, Args: args}
}

// NewHTTPSpec describes a streamable HTTP server.
func NewHTTPSpec(id, URL string) *ServerSpec {
	return &ServerSpec{ID: id, Type: SpecHTTP, URL: URL}
}

// NewOAuthSpec describes an HTTP server with a static OAuth configuration.
func NewOAuthSpec(id, URL string, config *auth.Config) *ServerSpec {
	return &ServerSpec{ID: id, Type: SpecOAuth, URL: URL, OAuth: config}
}

// NewAutoAuthSpec describes an HTTP server whose OAuth configuration is
// discovered on demand.
func NewAutoAuthSpec(id, URL, redirectScheme, clientName string) *ServerSpec {
	return &ServerSpec{ID: id, Type: SpecAutoAuth, URL: URL, RedirectScheme: redirectScheme, ClientName: clientName}
}
