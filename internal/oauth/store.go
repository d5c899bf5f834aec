package oauth

import (
	"context"
	"encoding/json"
)

// FlowStore persists transient flow state across the browser redirect
// round-trip. Implementations must provide read-after-write consistency:
// Manager.Start saves the state before the authorize URL is handed out, and
// a fast callback may read it back immediately, possibly from another
// process.
//
// Load returns (nil, nil) when no state exists for the flow.
type FlowStore interface {
	Save(ctx context.Context, name FlowName, state *FlowState) error
	Load(ctx context.Context, name FlowName) (*FlowState, error)
	Clear(ctx context.Context, name FlowName) error
}

// Credentials is the long-lived application auth data owned by the hosting
// application: registered client identity, tokens obtained for the app, and
// the bootstrap user's tokens.
type Credentials struct {
	ClientID     string `json:"oauth_client_id,omitempty"`
	AccessToken  string `json:"oauth_access_token,omitempty"`
	RefreshToken string `json:"oauth_refresh_token,omitempty"`

	UserAccessToken  string `json:"user_access_token,omitempty"`
	UserRefreshToken string `json:"user_refresh_token,omitempty"`

	RegistrationAccessToken string          `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string          `json:"registration_client_uri,omitempty"`
	RegistrationPayload     json.RawMessage `json:"registration_client_payload,omitempty"`
}

// IsRegistered reports whether a dynamic client registration exists.
func (c *Credentials) IsRegistered() bool { return c != nil && c.ClientID != "" }

// IsAuthorized reports whether the app holds an access token.
func (c *Credentials) IsAuthorized() bool { return c != nil && c.AccessToken != "" }

// IsUserAuthenticated reports whether the bootstrap user is signed in.
func (c *Credentials) IsUserAuthenticated() bool { return c != nil && c.UserAccessToken != "" }

// CredentialUpdate is a partial update of Credentials. Nil fields keep the
// stored value; non-nil fields overwrite it (pointing at an empty string
// clears a field). This keeps unrelated fields intact when, say, a token
// refresh lands while a registration is in flight.
type CredentialUpdate struct {
	ClientID     *string
	AccessToken  *string
	RefreshToken *string

	UserAccessToken  *string
	UserRefreshToken *string

	RegistrationAccessToken *string
	RegistrationClientURI   *string
	RegistrationPayload     *json.RawMessage
}

// Apply merges the update into a copy of base and returns it. A nil base
// starts from zero credentials.
func (u CredentialUpdate) Apply(base *Credentials) *Credentials {
	merged := Credentials{}
	if base != nil {
		merged = *base
	}

	if u.ClientID != nil {
		merged.ClientID = *u.ClientID
	}
	if u.AccessToken != nil {
		merged.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		merged.RefreshToken = *u.RefreshToken
	}
	if u.UserAccessToken != nil {
		merged.UserAccessToken = *u.UserAccessToken
	}
	if u.UserRefreshToken != nil {
		merged.UserRefreshToken = *u.UserRefreshToken
	}
	if u.RegistrationAccessToken != nil {
		merged.RegistrationAccessToken = *u.RegistrationAccessToken
	}
	if u.RegistrationClientURI != nil {
		merged.RegistrationClientURI = *u.RegistrationClientURI
	}
	if u.RegistrationPayload != nil {
		merged.RegistrationPayload = *u.RegistrationPayload
	}

	return &merged
}

// String returns a pointer to s, for building CredentialUpdate values.
func String(s string) *string { return &s }

// RawMessage returns a pointer to m, for building CredentialUpdate values.
func RawMessage(m json.RawMessage) *json.RawMessage { return &m }

// CredentialStore persists Credentials for one logical user/session. The
// flow core only reads and writes through this interface; it never owns the
// storage lifetime.
type CredentialStore interface {
	// Load returns the stored credentials, or (nil, nil) when none exist.
	Load(ctx context.Context) (*Credentials, error)

	// Update applies a partial update and returns the merged credentials.
	Update(ctx context.Context, update CredentialUpdate) (*Credentials, error)

	// Delete removes all stored credentials.
	Delete(ctx context.Context) error
}
