package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_RedirectURI(t *testing.T) {
	var testCases = []struct {
		description string
		config      *Config
		expect      string
	}{
		{
			description: "default callback path",
			config:      &Config{RedirectScheme: "myapp"},
			expect:      "myapp://oauth/callback",
		},
		{
			description: "custom path with leading slash",
			config:      &Config{RedirectScheme: "myapp", RedirectPath: "/auth/done"},
			expect:      "myapp://auth/done",
		},
	}
	for _, testCase := range testCases {
		assert.EqualValues(t, testCase.expect, testCase.config.RedirectURI(), testCase.description)
	}
}

func TestConfig_Scope(t *testing.T) {
	config := &Config{Scopes: []string{"read", "write"}}
	assert.EqualValues(t, "read write", config.Scope())
	config.ScopeSeparator = ","
	assert.EqualValues(t, "read,write", config.Scope())
}

func TestNewConfig(t *testing.T) {
	discovery := &Discovery{
		ResourceURL: "https://mcp.example.com/mcp",
		Resource: &ProtectedResourceMetadata{
			AuthorizationServers: []string{"https://auth.example.com"},
			ScopesSupported:      []string{"mcp:tools"},
		},
		Server: &AuthorizationServerMetadata{
			AuthorizationEndpoint:         "https://auth.example.com/authorize",
			TokenEndpoint:                 "https://auth.example.com/token",
			CodeChallengeMethodsSupported: []string{"S256"},
		},
	}
	registration := &RegistrationResponse{ClientID: "client-1"}

	config := NewConfig(discovery, registration, "myapp", "mcphub")
	assert.EqualValues(t, "client-1", config.ClientID)
	assert.EqualValues(t, "https://auth.example.com/authorize", config.AuthorizationURL)
	assert.EqualValues(t, "https://auth.example.com/token", config.TokenURL)
	assert.EqualValues(t, []string{"mcp:tools"}, config.Scopes)
	assert.True(t, config.UsePKCE)
	assert.EqualValues(t, "https://mcp.example.com/mcp", config.Resource)
}
