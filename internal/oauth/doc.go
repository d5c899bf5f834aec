// Package oauth implements the client side of an OAuth 2.1 Authorization
// Code + PKCE flow with Dynamic Client Registration (RFC 7591).
//
// The package is organized around four cooperating components:
//
//   - PKCE generation (GeneratePKCE, ChallengeFromVerifier)
//   - Metadata discovery for authorization servers (RFC 8414 / OIDC
//     Discovery) and protected resources (RFC 9728), with a per-URL cache
//   - Dynamic client registration against a discovered registration endpoint
//   - Manager, the authorization flow state machine that starts a flow,
//     persists its transient state across the browser redirect, and
//     completes it by exchanging the authorization code for tokens
//
// Persistence is injected through the FlowStore and CredentialStore
// interfaces; the package never owns storage lifetime. In-memory
// implementations live here, a durable SQLite implementation lives in
// internal/storage/sqlite.
//
// All failures surface as typed errors (DiscoveryError, RegistrationError,
// FlowError, TokenExchangeError) so callers can render messages precise
// enough to diagnose OAuth integration problems.
package oauth
