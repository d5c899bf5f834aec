package oauth

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFlowStore(t *testing.T) {
	store := NewMemoryFlowStore()
	ctx := context.Background()

	loaded, err := store.Load(ctx, FlowUserLogin)
	require.NoError(t, err)
	assert.Nil(t, loaded, "empty store should return nil state")

	state, err := NewFlowState("client-1", "http://localhost:8765/callback", "read")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, FlowUserLogin, state))

	loaded, err = store.Load(ctx, FlowUserLogin)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.State, loaded.State)
	assert.Equal(t, state.CodeVerifier, loaded.CodeVerifier)

	// Flows are keyed independently.
	other, err := store.Load(ctx, FlowAppAuthorize)
	require.NoError(t, err)
	assert.Nil(t, other)

	// Stored state is a copy, not an alias.
	loaded.State = "mutated"
	reloaded, err := store.Load(ctx, FlowUserLogin)
	require.NoError(t, err)
	assert.Equal(t, state.State, reloaded.State)

	require.NoError(t, store.Clear(ctx, FlowUserLogin))
	loaded, err = store.Load(ctx, FlowUserLogin)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Clearing an absent flow is not an error.
	assert.NoError(t, store.Clear(ctx, FlowUserLogin))
}

func TestCredentialUpdateApply(t *testing.T) {
	base := &Credentials{
		ClientID:     "abc123",
		AccessToken:  "app-access",
		RefreshToken: "app-refresh",
	}

	t.Run("nil fields keep stored values", func(t *testing.T) {
		merged := CredentialUpdate{
			UserAccessToken: String("user-access"),
		}.Apply(base)

		assert.Equal(t, "abc123", merged.ClientID)
		assert.Equal(t, "app-access", merged.AccessToken)
		assert.Equal(t, "user-access", merged.UserAccessToken)
	})

	t.Run("empty string pointer clears a field", func(t *testing.T) {
		merged := CredentialUpdate{
			AccessToken:  String(""),
			RefreshToken: String(""),
		}.Apply(base)

		assert.Equal(t, "abc123", merged.ClientID, "untouched field must survive")
		assert.Empty(t, merged.AccessToken)
		assert.Empty(t, merged.RefreshToken)
	})

	t.Run("nil base starts from zero", func(t *testing.T) {
		merged := CredentialUpdate{ClientID: String("fresh")}.Apply(nil)
		assert.Equal(t, "fresh", merged.ClientID)
		assert.Empty(t, merged.AccessToken)
	})

	t.Run("base is never mutated", func(t *testing.T) {
		_ = CredentialUpdate{ClientID: String("other")}.Apply(base)
		assert.Equal(t, "abc123", base.ClientID)
	})
}

func TestMemoryCredentialStore(t *testing.T) {
	store := NewMemoryCredentialStore()
	ctx := context.Background()

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, creds)

	payload := json.RawMessage(`{"client_id":"abc123","client_name":"Test Client"}`)
	creds, err = store.Update(ctx, CredentialUpdate{
		ClientID:            String("abc123"),
		RegistrationPayload: RawMessage(payload),
	})
	require.NoError(t, err)
	assert.True(t, creds.IsRegistered())
	assert.False(t, creds.IsAuthorized())

	// A later partial update leaves the registration intact.
	creds, err = store.Update(ctx, CredentialUpdate{
		AccessToken:  String("app-access"),
		RefreshToken: String("app-refresh"),
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", creds.ClientID)
	assert.JSONEq(t, string(payload), string(creds.RegistrationPayload))
	assert.True(t, creds.IsAuthorized())

	require.NoError(t, store.Delete(ctx))
	creds, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestCredentialsPredicates(t *testing.T) {
	var nilCreds *Credentials
	assert.False(t, nilCreds.IsRegistered())
	assert.False(t, nilCreds.IsAuthorized())
	assert.False(t, nilCreds.IsUserAuthenticated())

	creds := &Credentials{ClientID: "abc123", UserAccessToken: "user-access"}
	assert.True(t, creds.IsRegistered())
	assert.False(t, creds.IsAuthorized())
	assert.True(t, creds.IsUserAuthenticated())
}

func TestFlowStateValid(t *testing.T) {
	state, err := NewFlowState("client-1", "http://localhost:8765/callback", "read")
	require.NoError(t, err)
	assert.True(t, state.Valid())

	var nilState *FlowState
	assert.False(t, nilState.Valid())

	truncated := *state
	truncated.CodeVerifier = ""
	assert.False(t, truncated.Valid())
}
