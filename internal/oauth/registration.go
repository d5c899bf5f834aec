package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// snippetMaxLen bounds the response-body preview included in registration
// error messages.
const snippetMaxLen = 2000

// RegistrationRequest is the RFC 7591 payload posted to the registration
// endpoint.
type RegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Contacts                []string `json:"contacts,omitempty"`
}

// NewRegistrationRequest builds the registration payload for a public
// authorization-code client. token_endpoint_auth_method is "none": PKCE is
// the confidentiality substitute for a client secret.
func NewRegistrationRequest(clientName, redirectURI, scope string, contacts []string) *RegistrationRequest {
	return &RegistrationRequest{
		ClientName:              clientName,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		Scope:                   scope,
		TokenEndpointAuthMethod: "none",
		Contacts:                contacts,
	}
}

// ClientRegistration is the decoded registration response. Raw carries the
// complete payload so callers can persist fields this struct does not model.
type ClientRegistration struct {
	ClientID                string          `json:"client_id"`
	ClientSecret            string          `json:"client_secret,omitempty"`
	RegistrationAccessToken string          `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string          `json:"registration_client_uri,omitempty"`
	Raw                     json.RawMessage `json:"-"`
}

// Registrar performs RFC 7591 dynamic client registration.
//
// Registration is not idempotent: every successful call creates a client
// record on the server, so nothing here retries. Callers are responsible
// for not re-registering when a client_id already exists.
type Registrar struct {
	httpClient        *http.Client
	logger            *slog.Logger
	registrationToken string
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar)

// WithRegistrarHTTPClient sets a custom HTTP client.
func WithRegistrarHTTPClient(httpClient *http.Client) RegistrarOption {
	return func(r *Registrar) { r.httpClient = httpClient }
}

// WithRegistrarLogger sets a custom logger.
func WithRegistrarLogger(logger *slog.Logger) RegistrarOption {
	return func(r *Registrar) { r.logger = logger }
}

// WithRegistrationToken sets an initial access token sent as a Bearer
// credential on registration requests, for servers requiring authenticated
// DCR per RFC 7591 Section 3.
func WithRegistrationToken(token string) RegistrarOption {
	return func(r *Registrar) { r.registrationToken = token }
}

// NewRegistrar creates a Registrar.
func NewRegistrar(opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register posts the registration payload and decodes the created client.
//
// Failures are classified into RegistrationError variants the caller can
// render: transport errors, HTML responses (usually a wrong endpoint URL or
// a missing registration token), invalid JSON with a body preview, a 403
// suggesting authentication is required, and responses without a client_id.
func (r *Registrar) Register(ctx context.Context, registrationEndpoint string, request *RegistrationRequest) (*ClientRegistration, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, &RegistrationError{Err: fmt.Errorf("failed to encode registration payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &RegistrationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.registrationToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.registrationToken)
	}

	r.logger.Debug("registering dynamic client",
		"endpoint", registrationEndpoint,
		"client_name", request.ClientName)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &RegistrationError{Err: fmt.Errorf("registration request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, &RegistrationError{Status: resp.StatusCode, Err: fmt.Errorf("failed to read registration response: %w", err)}
	}

	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		regErr := &RegistrationError{Status: resp.StatusCode, Snippet: truncateSnippet(body)}
		switch {
		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
			regErr.Hint = "registration endpoint rejected the request; authentication (an initial registration access token) may be required"
		case strings.Contains(strings.ToLower(contentType), "html"):
			regErr.Hint = "registration endpoint responded with HTML instead of JSON; ensure the request is authorized and the endpoint URL is correct"
		default:
			regErr.Hint = http.StatusText(resp.StatusCode)
		}
		return nil, regErr
	}

	var registration ClientRegistration
	if err := json.Unmarshal(body, &registration); err != nil {
		regErr := &RegistrationError{Status: resp.StatusCode, Snippet: truncateSnippet(body), Err: err}
		if strings.Contains(strings.ToLower(contentType), "html") {
			regErr.Hint = "registration endpoint responded with HTML instead of JSON; ensure the request is authorized and the endpoint URL is correct"
		} else {
			regErr.Hint = fmt.Sprintf("registration endpoint returned invalid JSON (%v)", err)
		}
		return nil, regErr
	}

	if registration.ClientID == "" {
		return nil, &RegistrationError{
			Status:  resp.StatusCode,
			Hint:    "registration response missing client_id",
			Snippet: truncateSnippet(body),
		}
	}

	registration.Raw = json.RawMessage(body)

	r.logger.Debug("registered dynamic client", "client_id", registration.ClientID)
	return &registration, nil
}

func truncateSnippet(body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > snippetMaxLen {
		snippet = snippet[:snippetMaxLen] + "…"
	}
	return snippet
}
