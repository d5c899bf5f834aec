package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mybooks-oauth/internal/oauth"
)

// newTestAuthServer serves just enough of an authorization server for
// session tests: metadata, registration, and token endpoints.
func newTestAuthServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"registration_endpoint":  srv.URL + "/register",
		})
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_id":                 "abc123",
			"registration_access_token": "reg-token",
			"registration_client_uri":   srv.URL + "/register/abc123",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"token_type":    "Bearer",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
		})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionRegisterPersistsClient(t *testing.T) {
	srv := newTestAuthServer(t)
	session := newTestSession(t)
	session.cfg.ServerURL = srv.URL
	ctx := context.Background()

	creds, err := session.Register(ctx, false)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if creds.ClientID != "abc123" {
		t.Errorf("client_id = %q", creds.ClientID)
	}
	if creds.RegistrationAccessToken != "reg-token" {
		t.Errorf("registration_access_token = %q", creds.RegistrationAccessToken)
	}

	// A second call without force reuses the stored registration.
	again, err := session.Register(ctx, false)
	if err != nil {
		t.Fatalf("second Register failed: %v", err)
	}
	if again.ClientID != "abc123" {
		t.Errorf("client_id = %q after reuse", again.ClientID)
	}
}

func TestSessionCompletePersistsTokensPerFlow(t *testing.T) {
	srv := newTestAuthServer(t)
	session := newTestSession(t)
	session.cfg.ServerURL = srv.URL
	ctx := context.Background()

	// Start a user-login flow directly through the manager and finish it
	// through the session, as the callback handler would.
	authorizeURL, err := session.Manager().Start(ctx, oauth.FlowUserLogin, oauth.StartOptions{
		ClientID:              "abc123",
		Scope:                 "read",
		RedirectURI:           session.cfg.RedirectURI,
		AuthorizationEndpoint: srv.URL + "/authorize",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	state, err := session.Manager().PendingFlows(ctx)
	if err != nil || len(state) != 1 {
		t.Fatalf("pending = %v, err = %v", state, err)
	}
	_ = authorizeURL

	flowState, err := session.store.Load(ctx, oauth.FlowUserLogin)
	if err != nil || flowState == nil {
		t.Fatalf("flow state missing: %v", err)
	}

	if err := session.Complete(ctx, oauth.FlowUserLogin, "code-1", flowState.State, srv.URL+"/token"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	creds, err := session.Credentials().Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds.UserAccessToken != "access-1" {
		t.Errorf("user access token = %q", creds.UserAccessToken)
	}
	if creds.AccessToken != "" {
		t.Error("user login must not fill the app token slot")
	}
	if !creds.IsUserAuthenticated() {
		t.Error("expected user to be authenticated")
	}
}

func TestSessionLogout(t *testing.T) {
	srv := newTestAuthServer(t)
	session := newTestSession(t)
	session.cfg.ServerURL = srv.URL
	ctx := context.Background()

	if _, err := session.Register(ctx, false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := session.Manager().Start(ctx, oauth.FlowAppAuthorize, oauth.StartOptions{
		ClientID:              "abc123",
		Scope:                 "read",
		RedirectURI:           session.cfg.RedirectURI,
		AuthorizationEndpoint: srv.URL + "/authorize",
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := session.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	creds, err := session.Credentials().Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds != nil {
		t.Error("credentials survived logout")
	}

	pending, err := session.Manager().PendingFlows(ctx)
	if err != nil {
		t.Fatalf("PendingFlows failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending flows after logout = %v", pending)
	}
}
