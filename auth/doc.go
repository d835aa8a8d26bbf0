// Package auth implements the client side of the OAuth 2.0 authorization
// dance an MCP server may demand: protected-resource and authorization-server
// metadata discovery (RFC 9728 / RFC 8414), dynamic client registration
// (RFC 7591), PKCE-protected authorization-code exchange and token refresh.
//
// The Flow type orchestrates one server's authorization lifecycle; token
// persistence is delegated to a TokenStore (see the store sub-package) and
// callback delivery to a callback.Router instance owned by the application.
package auth
