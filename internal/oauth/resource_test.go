package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantScheme string
		wantRM     string
		wantScopes []string
		wantError  string
	}{
		{
			name:       "bare scheme",
			header:     "Bearer",
			wantScheme: "Bearer",
		},
		{
			name:       "resource metadata quoted",
			header:     `Bearer resource_metadata="https://api.example.com/.well-known/oauth-protected-resource"`,
			wantScheme: "Bearer",
			wantRM:     "https://api.example.com/.well-known/oauth-protected-resource",
		},
		{
			name:       "multiple params with quoted commas",
			header:     `Bearer realm="example", resource_metadata="https://api.example.com/.well-known/oauth-protected-resource", scope="read write", error="insufficient_scope"`,
			wantScheme: "Bearer",
			wantRM:     "https://api.example.com/.well-known/oauth-protected-resource",
			wantScopes: []string{"read", "write"},
			wantError:  "insufficient_scope",
		},
		{
			name:       "unquoted values",
			header:     "Bearer resource_metadata=https://api.example.com/prm, error=invalid_token",
			wantScheme: "Bearer",
			wantRM:     "https://api.example.com/prm",
			wantError:  "invalid_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			challenge, err := ParseWWWAuthenticate(tt.header)
			if err != nil {
				t.Fatalf("ParseWWWAuthenticate failed: %v", err)
			}
			if challenge.Scheme != tt.wantScheme {
				t.Errorf("scheme = %q, want %q", challenge.Scheme, tt.wantScheme)
			}
			if challenge.ResourceMetadataURL != tt.wantRM {
				t.Errorf("resource_metadata = %q, want %q", challenge.ResourceMetadataURL, tt.wantRM)
			}
			if challenge.Error != tt.wantError {
				t.Errorf("error = %q, want %q", challenge.Error, tt.wantError)
			}
			if len(challenge.Scopes) != len(tt.wantScopes) {
				t.Fatalf("scopes = %v, want %v", challenge.Scopes, tt.wantScopes)
			}
			for i := range challenge.Scopes {
				if challenge.Scopes[i] != tt.wantScopes[i] {
					t.Errorf("scope[%d] = %q, want %q", i, challenge.Scopes[i], tt.wantScopes[i])
				}
			}
		})
	}

	if _, err := ParseWWWAuthenticate(""); err == nil {
		t.Error("expected an error for an empty header")
	}
}

func TestExtractResourceMetadataURL(t *testing.T) {
	header := `Bearer resource_metadata="https://api.example.com/.well-known/oauth-protected-resource"`
	if got := ExtractResourceMetadataURL(header); got != "https://api.example.com/.well-known/oauth-protected-resource" {
		t.Errorf("ExtractResourceMetadataURL = %q", got)
	}
	if got := ExtractResourceMetadataURL(""); got != "" {
		t.Errorf("ExtractResourceMetadataURL(empty) = %q, want empty", got)
	}
	if got := ExtractResourceMetadataURL("Bearer realm=\"x\""); got != "" {
		t.Errorf("ExtractResourceMetadataURL without param = %q, want empty", got)
	}
}

func TestResourceMetadataDiscovery(t *testing.T) {
	mas := newMockAuthServer(t)

	d := NewDiscoverer()
	metadata, err := d.ResourceMetadata(context.Background(), mas.URL)
	if err != nil {
		t.Fatalf("ResourceMetadata failed: %v", err)
	}

	if metadata.Issuer != mas.URL {
		t.Errorf("issuer = %q, want %q", metadata.Issuer, mas.URL)
	}
	if len(metadata.AuthorizationServers) != 1 || metadata.AuthorizationServers[0] != mas.URL {
		t.Errorf("authorization_servers = %v, want [%q]", metadata.AuthorizationServers, mas.URL)
	}
	if metadata.ResourceName != "Mock API" {
		t.Errorf("resource_name = %q, want %q", metadata.ResourceName, "Mock API")
	}

	// Second lookup is served from cache.
	requests := len(mas.requestedPaths())
	if _, err := d.ResourceMetadata(context.Background(), mas.URL); err != nil {
		t.Fatalf("cached ResourceMetadata failed: %v", err)
	}
	if len(mas.requestedPaths()) != requests {
		t.Error("cached resource lookup made additional HTTP requests")
	}
}

func TestResourceMetadataValidation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{
			name:      "missing issuer",
			body:      `{"authorization_servers":["https://auth.example.com"]}`,
			wantField: "issuer",
		},
		{
			name:      "missing authorization servers",
			body:      `{"issuer":"https://api.example.com"}`,
			wantField: "authorization_servers",
		},
		{
			name:      "empty authorization servers",
			body:      `{"issuer":"https://api.example.com","authorization_servers":[]}`,
			wantField: "authorization_servers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewDiscoverer().ResourceMetadata(context.Background(), srv.URL)
			var de *DiscoveryError
			if !errors.As(err, &de) {
				t.Fatalf("expected DiscoveryError, got %v", err)
			}
			if de.Failure != DiscoveryFailureMissingField {
				t.Errorf("failure = %v, want %v", de.Failure, DiscoveryFailureMissingField)
			}
			if de.Field != tt.wantField {
				t.Errorf("field = %q, want %q", de.Field, tt.wantField)
			}
		})
	}
}

func TestFromResourceMetadataURL(t *testing.T) {
	mas := newMockAuthServer(t)

	d := NewDiscoverer()
	server, resource, err := d.FromResourceMetadataURL(context.Background(), mas.URL+"/.well-known/oauth-protected-resource")
	if err != nil {
		t.Fatalf("FromResourceMetadataURL failed: %v", err)
	}

	if resource.Issuer != mas.URL {
		t.Errorf("resource issuer = %q, want %q", resource.Issuer, mas.URL)
	}
	if server.TokenEndpoint != mas.URL+"/token" {
		t.Errorf("token_endpoint = %q, want %q", server.TokenEndpoint, mas.URL+"/token")
	}

	// The exact metadata URL from the challenge must be fetched first, with
	// no well-known guessing beforehand.
	paths := mas.requestedPaths()
	if len(paths) == 0 || paths[0] != "/.well-known/oauth-protected-resource" {
		t.Errorf("first request hit %v, want the challenge URL first", paths)
	}
}
