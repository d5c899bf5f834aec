package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// mockAuthServer is a minimal OAuth 2.1 authorization server for tests. It
// serves metadata at configurable well-known paths and records every token
// and registration request so tests can assert on exact wire shapes.
type mockAuthServer struct {
	*httptest.Server
	t *testing.T

	mu sync.Mutex

	// requestPaths records every request path in arrival order.
	requestPaths []string

	// metadataPaths are the request paths that serve the AS metadata
	// document. Anything else under /.well-known/ returns 404.
	metadataPaths map[string]bool

	// resourcePaths serve the protected-resource metadata document.
	resourcePaths map[string]bool

	scopesSupported []string

	// token endpoint behavior
	tokenStatus   int
	tokenResponse map[string]any
	tokenRequests []url.Values

	// registration endpoint behavior
	registerStatus      int
	registerContentType string
	registerBody        string
	registerRequests    []RegistrationRequest
}

func newMockAuthServer(t *testing.T) *mockAuthServer {
	t.Helper()

	mas := &mockAuthServer{
		t:               t,
		metadataPaths:   map[string]bool{"/.well-known/oauth-authorization-server": true},
		resourcePaths:   map[string]bool{"/.well-known/oauth-protected-resource": true},
		scopesSupported: []string{"read", "write"},
		tokenStatus:     http.StatusOK,
		tokenResponse:   map[string]any{"access_token": "tok_1", "token_type": "Bearer", "expires_in": 3600},
		registerStatus:  http.StatusCreated,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", mas.handle)
	mas.Server = httptest.NewServer(mux)
	t.Cleanup(mas.Server.Close)

	return mas
}

func (m *mockAuthServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestPaths = append(m.requestPaths, r.URL.Path)

	switch {
	case m.metadataPaths[r.URL.Path]:
		m.writeJSON(w, map[string]any{
			"issuer":                           m.URL,
			"authorization_endpoint":           m.URL + "/authorize",
			"token_endpoint":                   m.URL + "/token",
			"registration_endpoint":            m.URL + "/register",
			"revocation_endpoint":              m.URL + "/revoke",
			"scopes_supported":                 m.scopesSupported,
			"grant_types_supported":            []string{"authorization_code", "refresh_token"},
			"code_challenge_methods_supported": []string{"S256"},
		})

	case m.resourcePaths[r.URL.Path]:
		m.writeJSON(w, map[string]any{
			"issuer":                m.URL,
			"resource":              m.URL + "/api",
			"resource_name":         "Mock API",
			"authorization_servers": []string{m.URL},
			"scopes_supported":      m.scopesSupported,
		})

	case r.URL.Path == "/token" && r.Method == http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		m.tokenRequests = append(m.tokenRequests, r.PostForm)
		if m.tokenStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(m.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		m.writeJSON(w, m.tokenResponse)

	case r.URL.Path == "/register" && r.Method == http.MethodPost:
		var req RegistrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			m.registerRequests = append(m.registerRequests, req)
		}
		if m.registerBody != "" {
			w.Header().Set("Content-Type", m.registerContentType)
			w.WriteHeader(m.registerStatus)
			_, _ = w.Write([]byte(m.registerBody))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.registerStatus)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_id":                 "abc123",
			"client_name":               req.ClientName,
			"redirect_uris":             req.RedirectURIs,
			"registration_access_token": "reg-token",
			"registration_client_uri":   m.URL + "/register/abc123",
		})

	default:
		http.NotFound(w, r)
	}
}

func (m *mockAuthServer) writeJSON(w http.ResponseWriter, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		m.t.Errorf("failed to encode mock response: %v", err)
	}
}

// tokenRequestCount returns how many requests hit the token endpoint.
func (m *mockAuthServer) tokenRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokenRequests)
}

// lastTokenRequest returns the form body of the most recent token request.
func (m *mockAuthServer) lastTokenRequest() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tokenRequests) == 0 {
		return nil
	}
	return m.tokenRequests[len(m.tokenRequests)-1]
}

// requestedPaths returns a copy of every request path seen so far.
func (m *mockAuthServer) requestedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, len(m.requestPaths))
	copy(paths, m.requestPaths)
	return paths
}

// setMetadataPaths replaces the set of paths serving AS metadata.
func (m *mockAuthServer) setMetadataPaths(paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadataPaths = make(map[string]bool)
	for _, p := range paths {
		m.metadataPaths[p] = true
	}
}
