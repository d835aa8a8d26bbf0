package mcphub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/mcphub/auth"
	"gopkg.in/yaml.v3"
)

func TestServerSpec_Validate(t *testing.T) {
	testCases := []struct {
		description string
		spec        *ServerSpec
		expectError string
	}{
		{
			description: "valid stdio",
			spec:        NewStdioSpec("files", "npx", "-y", "files-server"),
		},
		{
			description: "valid http",
			spec:        NewHTTPSpec("remote", "https://mcp.example.com/mcp"),
		},
		{
			description: "valid oauth",
			spec:        NewOAuthSpec("secure", "https://mcp.example.com/mcp", &auth.Config{ClientID: "abc"}),
		},
		{
			description: "valid autoAuth",
			spec:        NewAutoAuthSpec("auto", "https://mcp.example.com/mcp", "myapp", "My App"),
		},
		{
			description: "missing id",
			spec:        &ServerSpec{Type: SpecStdio, Command: "npx"},
			expectError: "missing an id",
		},
		{
			description: "stdio without command",
			spec:        &ServerSpec{ID: "files", Type: SpecStdio},
			expectError: "missing a command",
		},
		{
			description: "http without url",
			spec:        &ServerSpec{ID: "remote", Type: SpecHTTP},
			expectError: "missing a url",
		},
		{
			description: "oauth without config",
			spec:        &ServerSpec{ID: "secure", Type: SpecOAuth, URL: "https://mcp.example.com/mcp"},
			expectError: "missing an oauth configuration",
		},
		{
			description: "autoAuth without redirect scheme",
			spec:        &ServerSpec{ID: "auto", Type: SpecAutoAuth, URL: "https://mcp.example.com/mcp"},
			expectError: "missing a redirect scheme",
		},
		{
			description: "unknown type",
			spec:        &ServerSpec{ID: "odd", Type: "websocket"},
			expectError: "unknown type",
		},
	}
	for _, testCase := range testCases {
		err := testCase.spec.Validate()
		if testCase.expectError == "" {
			assert.Nil(t, err, testCase.description)
			continue
		}
		assert.NotNil(t, err, testCase.description)
		assert.Contains(t, err.Error(), testCase.expectError, testCase.description)
	}
}

func TestServerSpec_YAML(t *testing.T) {
	document := `
id: files
name: Local Files
type: stdio
command: npx
args: [-y, files-server]
env:
  HOME: /home/dev
`
	spec := &ServerSpec{}
	err := yaml.Unmarshal([]byte(document), spec)
	assert.Nil(t, err)
	assert.Nil(t, spec.Validate())
	assert.EqualValues(t, "Local Files", spec.DisplayName())
	assert.EqualValues(t, SpecStdio, spec.Type)
	assert.EqualValues(t, []string{"-y", "files-server"}, spec.Args)
	assert.EqualValues(t, "/home/dev", spec.Env["HOME"])
}

func TestServerSpec_Authenticated(t *testing.T) {
	assert.False(t, NewStdioSpec("a", "cmd").Authenticated())
	assert.False(t, NewHTTPSpec("b", "https://x/mcp").Authenticated())
	assert.True(t, NewOAuthSpec("c", "https://x/mcp", &auth.Config{}).Authenticated())
	assert.True(t, NewAutoAuthSpec("d", "https://x/mcp", "app", "App").Authenticated())
}
