package auth

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Config holds the static OAuth 2.0 parameters for one MCP server. It is
// either supplied by the caller or derived from metadata discovery; once
// built it is never mutated.
type Config struct {
	ClientID         string            `yaml:"clientID" json:"clientID"`
	ClientSecret     string            `yaml:"clientSecret,omitempty" json:"clientSecret,omitempty"`
	AuthorizationURL string            `yaml:"authorizationURL" json:"authorizationURL"`
	TokenURL         string            `yaml:"tokenURL" json:"tokenURL"`
	Scopes           []string          `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	RedirectScheme   string            `yaml:"redirectScheme,omitempty" json:"redirectScheme,omitempty"`
	RedirectPath     string            `yaml:"redirectPath,omitempty" json:"redirectPath,omitempty"`
	UsePKCE          bool              `yaml:"usePKCE,omitempty" json:"usePKCE,omitempty"`
	ScopeSeparator   string            `yaml:"scopeSeparator,omitempty" json:"scopeSeparator,omitempty"`
	ExtraParams      map[string]string `yaml:"extraParams,omitempty" json:"extraParams,omitempty"`
	ClientName       string            `yaml:"clientName,omitempty" json:"clientName,omitempty"`
	// Resource carries the original MCP server URL as an RFC 8707 resource
	// indicator on the token exchange.
	Resource string `yaml:"resource,omitempty" json:"resource,omitempty"`
}

// RedirectURI builds the callback URI delivered back through the host
// application, e.g. myapp://oauth/callback.
func (c *Config) RedirectURI() string {
	path := c.RedirectPath
	if path == "" {
		path = "oauth/callback"
	}
	return fmt.Sprintf("%s://%s", c.RedirectScheme, strings.TrimPrefix(path, "/"))
}

// Scope joins the configured scopes with the configured separator
// (some providers require "," rather than the RFC default space).
func (c *Config) Scope() string {
	separator := c.ScopeSeparator
	if separator == "" {
		separator = " "
	}
	return strings.Join(c.Scopes, separator)
}

// oauth2Config adapts this Config to golang.org/x/oauth2. AuthStyleInParams
// forces client credentials into the form body as the token endpoints
// targeted here expect.
func (c *Config) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthorizationURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: c.Scopes,
	}
}

// NewConfig derives a Config from discovered metadata and an optional
// dynamic registration result.
func NewConfig(discovery *Discovery, registration *RegistrationResponse, redirectScheme, clientName string) *Config {
	ret := &Config{
		AuthorizationURL: discovery.Server.AuthorizationEndpoint,
		TokenURL:         discovery.Server.TokenEndpoint,
		Scopes:           discovery.Resource.ScopesSupported,
		RedirectScheme:   redirectScheme,
		UsePKCE:          discovery.Server.SupportsS256(),
		ClientName:       clientName,
		Resource:         discovery.ResourceURL,
	}
	if registration != nil {
		ret.ClientID = registration.ClientID
		ret.ClientSecret = registration.ClientSecret
	}
	return ret
}
