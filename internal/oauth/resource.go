package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ResourceMetadata is an OAuth 2.0 Protected Resource Metadata document per
// RFC 9728. It locates the authorization servers guarding a resource when
// only the resource URL is known.
type ResourceMetadata struct {
	Issuer               string   `json:"issuer"`
	AuthorizationServers []string `json:"authorization_servers"`

	Resource               string   `json:"resource,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

// Challenge holds the parsed parameters of a WWW-Authenticate header per
// RFC 6750 and RFC 9728.
type Challenge struct {
	Scheme              string
	ResourceMetadataURL string
	Scopes              []string
	Error               string
	ErrorDescription    string
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value, e.g.
//
//	Bearer resource_metadata="https://api.example.com/.well-known/oauth-protected-resource",
//	       scope="read write", error="insufficient_scope"
//
// Both quoted and unquoted parameter values are accepted.
func ParseWWWAuthenticate(header string) (*Challenge, error) {
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &Challenge{Scheme: parts[0]}

	if len(parts) == 2 {
		params := parseAuthParams(parts[1])
		challenge.ResourceMetadataURL = params["resource_metadata"]
		challenge.Error = params["error"]
		challenge.ErrorDescription = params["error_description"]
		if scope := params["scope"]; scope != "" {
			challenge.Scopes = strings.Fields(scope)
		}
	}

	return challenge, nil
}

// ExtractResourceMetadataURL pulls the resource_metadata parameter out of a
// WWW-Authenticate header. Returns "" when the header is absent or carries
// no such parameter. When present, discovery from this URL takes priority
// over well-known host guessing.
func ExtractResourceMetadataURL(header string) string {
	if header == "" {
		return ""
	}
	challenge, err := ParseWWWAuthenticate(header)
	if err != nil {
		return ""
	}
	return challenge.ResourceMetadataURL
}

// parseAuthParams parses comma-separated auth params, respecting quotes.
func parseAuthParams(params string) map[string]string {
	result := make(map[string]string)

	for _, part := range splitPreservingQuotes(params, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		eq := strings.Index(part, "=")
		if eq == -1 {
			continue
		}

		key := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		if key != "" {
			result[key] = value
		}
	}

	return result
}

func splitPreservingQuotes(s string, delimiter byte) []string {
	var result []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case ch == delimiter && !inQuotes:
			result = append(result, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// ResourceMetadata discovers protected resource metadata for a resource
// URL. Candidates, in order:
//
//  1. {scheme}://{host}/.well-known/oauth-protected-resource/{p} (when the
//     resource URL has a path component p)
//  2. {scheme}://{host}/.well-known/oauth-protected-resource
//
// Results are cached per resource URL.
func (d *Discoverer) ResourceMetadata(ctx context.Context, resourceURL string) (*ResourceMetadata, error) {
	key := strings.TrimSuffix(resourceURL, "/")

	d.mu.RLock()
	if entry, ok := d.resources[key]; ok && time.Since(entry.fetchedAt) < d.ttl {
		d.mu.RUnlock()
		return entry.value, nil
	}
	d.mu.RUnlock()

	result, err, _ := d.group.Do("resource:"+key, func() (interface{}, error) {
		d.mu.RLock()
		if entry, ok := d.resources[key]; ok && time.Since(entry.fetchedAt) < d.ttl {
			d.mu.RUnlock()
			return entry.value, nil
		}
		d.mu.RUnlock()

		candidates, err := resourceMetadataCandidates(key)
		if err != nil {
			return nil, err
		}

		var lastErr error
		var metadata *ResourceMetadata
		for _, candidate := range candidates {
			metadata, err = d.fetchResourceMetadata(ctx, candidate)
			if err != nil {
				d.logger.Debug("resource metadata candidate failed", "url", candidate, "error", err)
				lastErr = err
				continue
			}
			break
		}
		if metadata == nil {
			return nil, lastErr
		}

		d.mu.Lock()
		d.resources[key] = cacheEntry[*ResourceMetadata]{value: metadata, fetchedAt: time.Now()}
		d.mu.Unlock()
		return metadata, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ResourceMetadata), nil
}

// FromResourceMetadataURL performs discovery starting from an exact
// resource_metadata URL (taken from a 401 WWW-Authenticate challenge),
// bypassing well-known host guessing: it fetches the protected resource
// document, picks its first authorization server, and discovers that
// server's metadata.
func (d *Discoverer) FromResourceMetadataURL(ctx context.Context, metadataURL string) (*ServerMetadata, *ResourceMetadata, error) {
	resource, err := d.fetchResourceMetadata(ctx, metadataURL)
	if err != nil {
		return nil, nil, err
	}

	server, err := d.ServerMetadata(ctx, resource.AuthorizationServers[0])
	if err != nil {
		return nil, resource, err
	}
	return server, resource, nil
}

func resourceMetadataCandidates(resourceURL string) ([]string, error) {
	parsed, err := parseServerURL(resourceURL)
	if err != nil {
		return nil, err
	}

	base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	path := strings.Trim(parsed.Path, "/")

	var candidates []string
	if path != "" {
		candidates = append(candidates, fmt.Sprintf("%s/%s/%s", base, wellKnownProtectedResource, path))
	}
	candidates = append(candidates, fmt.Sprintf("%s/%s", base, wellKnownProtectedResource))
	return candidates, nil
}

func (d *Discoverer) fetchResourceMetadata(ctx context.Context, metadataURL string) (*ResourceMetadata, error) {
	body, err := d.fetchJSON(ctx, metadataURL)
	if err != nil {
		return nil, err
	}

	var metadata ResourceMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, &DiscoveryError{URL: metadataURL, Failure: DiscoveryFailureInvalidJSON, Err: err}
	}

	if strings.TrimSpace(metadata.Issuer) == "" {
		return nil, &DiscoveryError{URL: metadataURL, Failure: DiscoveryFailureMissingField, Field: "issuer"}
	}
	if len(metadata.AuthorizationServers) == 0 {
		return nil, &DiscoveryError{URL: metadataURL, Failure: DiscoveryFailureMissingField, Field: "authorization_servers"}
	}

	return &metadata, nil
}
