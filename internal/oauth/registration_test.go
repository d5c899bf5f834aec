package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestRegisterClient(t *testing.T) {
	mas := newMockAuthServer(t)

	request := NewRegistrationRequest("Test Client", "http://localhost:8765/callback", "read write", nil)
	registration, err := NewRegistrar().Register(context.Background(), mas.URL+"/register", request)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if registration.ClientID != "abc123" {
		t.Errorf("client_id = %q, want %q", registration.ClientID, "abc123")
	}
	if registration.RegistrationAccessToken != "reg-token" {
		t.Errorf("registration_access_token = %q, want %q", registration.RegistrationAccessToken, "reg-token")
	}
	if len(registration.Raw) == 0 {
		t.Error("expected the Raw payload to be preserved")
	}

	if len(mas.registerRequests) != 1 {
		t.Fatalf("server saw %d registration requests, want 1", len(mas.registerRequests))
	}
	sent := mas.registerRequests[0]
	if sent.ClientName != "Test Client" {
		t.Errorf("client_name = %q, want %q", sent.ClientName, "Test Client")
	}
	if sent.TokenEndpointAuthMethod != "none" {
		t.Errorf("token_endpoint_auth_method = %q, want %q", sent.TokenEndpointAuthMethod, "none")
	}
	if len(sent.GrantTypes) != 2 || sent.GrantTypes[0] != "authorization_code" || sent.GrantTypes[1] != "refresh_token" {
		t.Errorf("grant_types = %v", sent.GrantTypes)
	}
	if len(sent.ResponseTypes) != 1 || sent.ResponseTypes[0] != "code" {
		t.Errorf("response_types = %v", sent.ResponseTypes)
	}
	if len(sent.RedirectURIs) != 1 || sent.RedirectURIs[0] != "http://localhost:8765/callback" {
		t.Errorf("redirect_uris = %v", sent.RedirectURIs)
	}
}

func TestRegisterClientErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantStatus  int
		wantInHint  string
	}{
		{
			name:        "forbidden suggests auth required",
			status:      http.StatusForbidden,
			contentType: "application/json",
			body:        `{"error":"access_denied"}`,
			wantStatus:  http.StatusForbidden,
			wantInHint:  "registration access token",
		},
		{
			name:        "unauthorized suggests auth required",
			status:      http.StatusUnauthorized,
			contentType: "application/json",
			body:        `{"error":"invalid_token"}`,
			wantStatus:  http.StatusUnauthorized,
			wantInHint:  "registration access token",
		},
		{
			name:        "error page identified as HTML",
			status:      http.StatusBadRequest,
			contentType: "text/html; charset=utf-8",
			body:        "<html><body>Bad Request</body></html>",
			wantStatus:  http.StatusBadRequest,
			wantInHint:  "HTML instead of JSON",
		},
		{
			name:        "HTML body on success status identified as HTML",
			status:      http.StatusOK,
			contentType: "text/html; charset=utf-8",
			body:        "<html><body>Sign in</body></html>",
			wantStatus:  http.StatusOK,
			wantInHint:  "HTML instead of JSON",
		},
		{
			name:        "invalid JSON on success status",
			status:      http.StatusCreated,
			contentType: "application/json",
			body:        "not json at all",
			wantStatus:  http.StatusCreated,
			wantInHint:  "invalid JSON",
		},
		{
			name:        "missing client_id",
			status:      http.StatusCreated,
			contentType: "application/json",
			body:        `{"client_name":"Test Client"}`,
			wantStatus:  http.StatusCreated,
			wantInHint:  "missing client_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mas := newMockAuthServer(t)
			mas.registerStatus = tt.status
			mas.registerContentType = tt.contentType
			mas.registerBody = tt.body

			request := NewRegistrationRequest("Test Client", "http://localhost:8765/callback", "read", nil)
			_, err := NewRegistrar().Register(context.Background(), mas.URL+"/register", request)

			var regErr *RegistrationError
			if !errors.As(err, &regErr) {
				t.Fatalf("expected RegistrationError, got %v", err)
			}
			if regErr.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", regErr.Status, tt.wantStatus)
			}
			if !strings.Contains(regErr.Hint, tt.wantInHint) {
				t.Errorf("hint = %q, want it to mention %q", regErr.Hint, tt.wantInHint)
			}
			if regErr.Snippet == "" {
				t.Error("expected a body snippet for diagnostics")
			}
		})
	}
}

func TestRegisterClientSendsRegistrationToken(t *testing.T) {
	var gotAuth string
	mas := newMockAuthServer(t)

	// Wrap the mock to capture the Authorization header.
	inner := mas.Config.Handler
	mas.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/register" {
			gotAuth = r.Header.Get("Authorization")
		}
		inner.ServeHTTP(w, r)
	})

	registrar := NewRegistrar(WithRegistrationToken("initial-token"))
	request := NewRegistrationRequest("Test Client", "http://localhost:8765/callback", "read", nil)
	if _, err := registrar.Register(context.Background(), mas.URL+"/register", request); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if gotAuth != "Bearer initial-token" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer initial-token")
	}
}

func TestTruncateSnippet(t *testing.T) {
	long := strings.Repeat("x", snippetMaxLen+500)
	got := truncateSnippet([]byte(long))
	if len([]rune(got)) != snippetMaxLen+1 {
		t.Errorf("truncated snippet has %d runes, want %d", len([]rune(got)), snippetMaxLen+1)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("expected the truncation marker suffix")
	}

	if got := truncateSnippet([]byte("  short body \n")); got != "short body" {
		t.Errorf("short snippet = %q, want %q", got, "short body")
	}
}
