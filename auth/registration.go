package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// RegistrationRequest is the RFC 7591 dynamic client registration payload.
// Registration always requests a public client (no token endpoint auth).
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ClientName              string   `json:"client_name,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// RegistrationResponse is the subset of the RFC 7591 response this client
// consumes.
type RegistrationResponse struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at,omitempty"`
}

// Register performs dynamic client registration against the advertised
// endpoint. Callers must check SupportsRegistration first; an absent
// endpoint yields ErrRegistrationUnsupported.
func Register(ctx context.Context, server *AuthorizationServerMetadata, redirectURI, clientName, scope string, httpClient *http.Client) (*RegistrationResponse, error) {
	if !server.SupportsRegistration() {
		return nil, ErrRegistrationUnsupported
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	payload := &RegistrationRequest{
		RedirectURIs:            []string{redirectURI},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              clientName,
		Scope:                   scope,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client registration request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("client registration failed with status %d: %s", resp.StatusCode, data)
	}
	var registration RegistrationResponse
	if err = json.NewDecoder(resp.Body).Decode(&registration); err != nil {
		return nil, fmt.Errorf("client registration returned invalid JSON: %w", err)
	}
	if registration.ClientID == "" {
		return nil, fmt.Errorf("client registration response is missing client_id")
	}
	return &registration, nil
}
