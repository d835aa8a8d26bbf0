package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	wellKnownProtectedResource   = "/.well-known/oauth-protected-resource"
	wellKnownAuthorizationServer = "/.well-known/oauth-authorization-server"
)

// ProtectedResourceMetadata is the RFC 9728 document advertised by an MCP
// server that requires authorization.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource,omitempty"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// AuthorizationServerMetadata is the RFC 8414 document describing an
// authorization server's endpoints and capabilities.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// SupportsS256 reports whether the server advertises S256 PKCE.
func (m *AuthorizationServerMetadata) SupportsS256() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	return false
}

// SupportsRegistration reports whether dynamic client registration is
// advertised.
func (m *AuthorizationServerMetadata) SupportsRegistration() bool {
	return m.RegistrationEndpoint != ""
}

// Discovery is the combined result of resource and authorization-server
// metadata discovery for one MCP server.
type Discovery struct {
	// ResourceURL is the MCP server URL discovery started from.
	ResourceURL string
	Resource    *ProtectedResourceMetadata
	Server      *AuthorizationServerMetadata
}

var resourceMetadataPattern = regexp.MustCompile(`resource_metadata\s*=\s*"([^"]+)"`)

// ParseResourceMetadataURL extracts the resource_metadata parameter from a
// WWW-Authenticate header value.
func ParseResourceMetadataURL(wwwAuthenticate string) (string, bool) {
	match := resourceMetadataPattern.FindStringSubmatch(wwwAuthenticate)
	if len(match) != 2 {
		return "", false
	}
	return match[1], true
}

// DefaultResourceMetadataURL falls back to the well-known protected
// resource path on the resource's own origin.
func DefaultResourceMetadataURL(resourceURL string) (string, error) {
	parsed, err := url.Parse(resourceURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid resource URL %q", resourceURL)
	}
	return parsed.Scheme + "://" + parsed.Host + wellKnownProtectedResource, nil
}

// AuthorizationServerMetadataURL builds the RFC 8414 metadata URL for an
// issuer: a root-path issuer maps to /.well-known/oauth-authorization-server,
// an issuer with path /tenant1 maps to
// /.well-known/oauth-authorization-server/tenant1.
func AuthorizationServerMetadataURL(issuer string) (string, error) {
	parsed, err := url.Parse(issuer)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid issuer URL %q", issuer)
	}
	path := strings.TrimSuffix(parsed.Path, "/")
	if path == "" {
		return parsed.Scheme + "://" + parsed.Host + wellKnownAuthorizationServer, nil
	}
	return parsed.Scheme + "://" + parsed.Host + wellKnownAuthorizationServer + path, nil
}

// FetchProtectedResourceMetadata fetches and validates an RFC 9728 document.
func FetchProtectedResourceMetadata(ctx context.Context, URL string, httpClient *http.Client) (*ProtectedResourceMetadata, error) {
	var metadata ProtectedResourceMetadata
	if err := fetchJSON(ctx, URL, httpClient, &metadata); err != nil {
		return nil, fmt.Errorf("failed to fetch protected resource metadata: %w", err)
	}
	if len(metadata.AuthorizationServers) == 0 {
		return nil, ErrNoAuthorizationServers
	}
	return &metadata, nil
}

// FetchAuthorizationServerMetadata fetches an RFC 8414 document for issuer.
func FetchAuthorizationServerMetadata(ctx context.Context, issuer string, httpClient *http.Client) (*AuthorizationServerMetadata, error) {
	URL, err := AuthorizationServerMetadataURL(issuer)
	if err != nil {
		return nil, err
	}
	var metadata AuthorizationServerMetadata
	if err = fetchJSON(ctx, URL, httpClient, &metadata); err != nil {
		return nil, fmt.Errorf("failed to fetch authorization server metadata: %w", err)
	}
	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("authorization server metadata from %s is missing endpoints", URL)
	}
	return &metadata, nil
}

// Discover runs the full RFC 9728 + RFC 8414 sequence. wwwAuthenticate may
// be empty, in which case the well-known path on the resource origin is
// used. The first listed authorization server wins.
func Discover(ctx context.Context, resourceURL, wwwAuthenticate string, httpClient *http.Client) (*Discovery, error) {
	metadataURL, ok := ParseResourceMetadataURL(wwwAuthenticate)
	if !ok {
		var err error
		if metadataURL, err = DefaultResourceMetadataURL(resourceURL); err != nil {
			return nil, err
		}
	}
	resource, err := FetchProtectedResourceMetadata(ctx, metadataURL, httpClient)
	if err != nil {
		return nil, err
	}
	server, err := FetchAuthorizationServerMetadata(ctx, resource.AuthorizationServers[0], httpClient)
	if err != nil {
		return nil, err
	}
	return &Discovery{ResourceURL: resourceURL, Resource: resource, Server: server}, nil
}

func fetchJSON(ctx context.Context, URL string, httpClient *http.Client, target interface{}) error {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", URL, resp.StatusCode)
	}
	if err = json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%s returned invalid JSON: %w", URL, err)
	}
	return nil
}
