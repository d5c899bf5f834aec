package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// maxMetadataSize bounds well-known document reads (1MB).
	maxMetadataSize = 1024 * 1024

	// DefaultRequestTimeout bounds every outbound metadata, registration
	// and token request.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultMetadataCacheTTL is how long discovered metadata stays cached.
	DefaultMetadataCacheTTL = 30 * time.Minute

	wellKnownAuthServer        = ".well-known/oauth-authorization-server"
	wellKnownOpenIDConfig      = ".well-known/openid-configuration"
	wellKnownProtectedResource = ".well-known/oauth-protected-resource"
)

// ServerMetadata is an OAuth 2.0 Authorization Server Metadata document per
// RFC 8414 / OIDC Discovery. Immutable once fetched.
type ServerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`

	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`

	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	GrantTypesSupported    []string `json:"grant_types_supported,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethods   []string `json:"code_challenge_methods_supported,omitempty"`
}

// SupportsS256 reports whether the server advertises the S256 PKCE method.
func (m *ServerMetadata) SupportsS256() bool {
	for _, method := range m.CodeChallengeMethods {
		if method == MethodS256 {
			return true
		}
	}
	return false
}

type cacheEntry[T any] struct {
	value     T
	fetchedAt time.Time
}

// Discoverer resolves authorization-server and protected-resource metadata
// via well-known URL conventions and caches the results per URL.
//
// The cache is keyed by normalized server/resource URL so multiple
// authorization servers can coexist in one process. Concurrent discovery of
// the same URL is collapsed via singleflight; entries are immutable once
// stored.
type Discoverer struct {
	httpClient *http.Client
	logger     *slog.Logger
	ttl        time.Duration

	mu        sync.RWMutex
	servers   map[string]cacheEntry[*ServerMetadata]
	resources map[string]cacheEntry[*ResourceMetadata]

	group singleflight.Group
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithHTTPClient sets a custom HTTP client (timeouts, TLS toggles).
func WithHTTPClient(httpClient *http.Client) DiscovererOption {
	return func(d *Discoverer) { d.httpClient = httpClient }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) DiscovererOption {
	return func(d *Discoverer) { d.logger = logger }
}

// WithCacheTTL sets the metadata cache TTL.
func WithCacheTTL(ttl time.Duration) DiscovererOption {
	return func(d *Discoverer) { d.ttl = ttl }
}

// NewDiscoverer creates a metadata discoverer.
func NewDiscoverer(opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		logger:     slog.Default(),
		ttl:        DefaultMetadataCacheTTL,
		servers:    make(map[string]cacheEntry[*ServerMetadata]),
		resources:  make(map[string]cacheEntry[*ResourceMetadata]),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ServerMetadata discovers authorization server metadata for the given
// server URL.
//
// Candidate well-known URLs are probed in priority order. For a server URL
// with a path component p:
//
//  1. {scheme}://{host}/.well-known/oauth-authorization-server/{p}
//  2. {scheme}://{host}/.well-known/openid-configuration/{p}
//  3. {scheme}://{host}/{p}/.well-known/openid-configuration
//
// and in every case:
//
//  4. {scheme}://{host}/.well-known/oauth-authorization-server
//  5. {scheme}://{host}/.well-known/openid-configuration
//
// The first candidate returning 200 with a JSON object carrying non-empty
// issuer, authorization_endpoint and token_endpoint wins. Results are
// cached per server URL.
func (d *Discoverer) ServerMetadata(ctx context.Context, serverURL string) (*ServerMetadata, error) {
	key := strings.TrimSuffix(serverURL, "/")

	d.mu.RLock()
	if entry, ok := d.servers[key]; ok && time.Since(entry.fetchedAt) < d.ttl {
		d.mu.RUnlock()
		return entry.value, nil
	}
	d.mu.RUnlock()

	result, err, _ := d.group.Do("server:"+key, func() (interface{}, error) {
		d.mu.RLock()
		if entry, ok := d.servers[key]; ok && time.Since(entry.fetchedAt) < d.ttl {
			d.mu.RUnlock()
			return entry.value, nil
		}
		d.mu.RUnlock()

		metadata, err := d.probeServerMetadata(ctx, key)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.servers[key] = cacheEntry[*ServerMetadata]{value: metadata, fetchedAt: time.Now()}
		d.mu.Unlock()
		return metadata, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ServerMetadata), nil
}

// Invalidate drops cached metadata for a server URL. Callers use this when a
// cached result led to a 401, which usually signals a stale client
// registration on the server side.
func (d *Discoverer) Invalidate(serverURL string) {
	key := strings.TrimSuffix(serverURL, "/")
	d.mu.Lock()
	delete(d.servers, key)
	delete(d.resources, key)
	d.mu.Unlock()
}

func (d *Discoverer) probeServerMetadata(ctx context.Context, serverURL string) (*ServerMetadata, error) {
	candidates, err := serverMetadataCandidates(serverURL)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("probing authorization server metadata",
		"server", serverURL,
		"candidates", len(candidates))

	var lastErr error
	for i, candidate := range candidates {
		metadata, err := d.fetchServerMetadata(ctx, candidate)
		if err != nil {
			d.logger.Debug("metadata candidate failed",
				"url", candidate,
				"attempt", fmt.Sprintf("%d/%d", i+1, len(candidates)),
				"error", err)
			lastErr = err
			continue
		}

		d.logger.Debug("discovered authorization server metadata",
			"url", candidate,
			"issuer", metadata.Issuer)
		return metadata, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &DiscoveryError{URL: serverURL, Failure: DiscoveryFailureNetwork,
		Err: fmt.Errorf("no metadata candidates for %s", serverURL)}
}

// serverMetadataCandidates builds the prioritized well-known URLs for a
// server URL per RFC 8414 Section 3 and OIDC Discovery Section 4.
func serverMetadataCandidates(serverURL string) ([]string, error) {
	parsed, err := parseServerURL(serverURL)
	if err != nil {
		return nil, err
	}

	base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	path := strings.Trim(parsed.Path, "/")

	var candidates []string
	if path != "" {
		candidates = append(candidates,
			fmt.Sprintf("%s/%s/%s", base, wellKnownAuthServer, path),
			fmt.Sprintf("%s/%s/%s", base, wellKnownOpenIDConfig, path),
			fmt.Sprintf("%s/%s/%s", base, path, wellKnownOpenIDConfig),
		)
	}
	candidates = append(candidates,
		fmt.Sprintf("%s/%s", base, wellKnownAuthServer),
		fmt.Sprintf("%s/%s", base, wellKnownOpenIDConfig),
	)
	return candidates, nil
}

// parseServerURL validates that a server/resource URL is absolute and uses
// https (http is allowed for loopback hosts only).
func parseServerURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("server URL must be absolute: %s", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("server URL missing host: %s", raw)
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		if !isLocalhost(parsed.Host) {
			return nil, fmt.Errorf("server URL must use https (http only allowed for localhost, got %s)", parsed.Host)
		}
	default:
		return nil, fmt.Errorf("server URL must use http or https scheme: %s", raw)
	}
	return parsed, nil
}

func isLocalhost(host string) bool {
	return host == "localhost" ||
		strings.HasPrefix(host, "localhost:") ||
		host == "127.0.0.1" ||
		strings.HasPrefix(host, "127.0.0.1:") ||
		host == "[::1]" ||
		strings.HasPrefix(host, "[::1]:")
}

func (d *Discoverer) fetchServerMetadata(ctx context.Context, metadataURL string) (*ServerMetadata, error) {
	body, err := d.fetchJSON(ctx, metadataURL)
	if err != nil {
		return nil, err
	}

	var metadata ServerMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, &DiscoveryError{URL: metadataURL, Failure: DiscoveryFailureInvalidJSON, Err: err}
	}

	for field, value := range map[string]string{
		"issuer":                 metadata.Issuer,
		"authorization_endpoint": metadata.AuthorizationEndpoint,
		"token_endpoint":         metadata.TokenEndpoint,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, &DiscoveryError{URL: metadataURL, Failure: DiscoveryFailureMissingField, Field: field}
		}
	}

	return &metadata, nil
}

// fetchJSON retrieves a well-known document, classifying transport and
// status failures as DiscoveryError.
func (d *Discoverer) fetchJSON(ctx context.Context, docURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, &DiscoveryError{URL: docURL, Failure: DiscoveryFailureNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &DiscoveryError{URL: docURL, Failure: DiscoveryFailureNetwork, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &DiscoveryError{URL: docURL, Failure: DiscoveryFailureStatus, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, &DiscoveryError{URL: docURL, Failure: DiscoveryFailureNetwork, Err: err}
	}
	if int64(len(body)) >= maxMetadataSize {
		return nil, &DiscoveryError{URL: docURL, Failure: DiscoveryFailureInvalidJSON,
			Err: fmt.Errorf("document exceeds %d bytes", maxMetadataSize)}
	}
	return body, nil
}
