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
)

// FlowName identifies the purpose of an authorization flow. Flows are a
// closed set so callbacks sharing one redirect URI can be matched
// exhaustively against every pending flow.
type FlowName string

const (
	// FlowUserLogin is the bootstrap flow signing the end user in.
	FlowUserLogin FlowName = "user_login"

	// FlowAppAuthorize is the flow authorizing the dynamically registered
	// application client.
	FlowAppAuthorize FlowName = "app_authorize"
)

// AllFlows lists every known flow purpose.
var AllFlows = []FlowName{FlowUserLogin, FlowAppAuthorize}

// ParseFlowName validates a flow name string against the known set.
func ParseFlowName(s string) (FlowName, error) {
	for _, name := range AllFlows {
		if string(name) == s {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown flow name %q", s)
}

// FlowState is the transient snapshot of one in-flight authorization
// attempt. It is created at Start, read exactly once at Complete (or
// explicitly cleared), and never mutated in place: updates go through
// WithContext, which returns a replacement.
type FlowState struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	CodeVerifier        string `json:"code_verifier"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	State               string `json:"state"`
}

// NewFlowState generates fresh PKCE material and a CSRF state token for a
// new authorization attempt.
func NewFlowState(clientID, redirectURI, scope string) (*FlowState, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	return &FlowState{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeVerifier:        pkce.CodeVerifier,
		CodeChallenge:       pkce.CodeChallenge,
		CodeChallengeMethod: pkce.CodeChallengeMethod,
		State:               state,
	}, nil
}

// WithContext returns a copy with the caller-supplied context replaced but
// the PKCE material and state token preserved. Used when client
// registration finishes after PKCE material was already generated.
func (s *FlowState) WithContext(clientID, redirectURI, scope string) *FlowState {
	copied := *s
	copied.ClientID = clientID
	copied.RedirectURI = redirectURI
	copied.Scope = scope
	return &copied
}

// Valid reports whether every field is populated. Stores use this to drop
// truncated or legacy records.
func (s *FlowState) Valid() bool {
	return s != nil &&
		s.ClientID != "" &&
		s.RedirectURI != "" &&
		s.Scope != "" &&
		s.CodeVerifier != "" &&
		s.CodeChallenge != "" &&
		s.CodeChallengeMethod != "" &&
		s.State != ""
}

// StartOptions parameterizes Manager.Start.
type StartOptions struct {
	ClientID              string
	Scope                 string
	RedirectURI           string
	AuthorizationEndpoint string

	// ReuseExisting keeps the PKCE material and state token of a pending
	// flow, overwriting only client_id, redirect_uri and scope. This lets a
	// registration that completed after Start re-issue the authorize URL
	// without invalidating a challenge the server may already have seen.
	ReuseExisting bool
}

// CompleteOptions parameterizes Manager.Complete.
type CompleteOptions struct {
	Code          string
	ReturnedState string
	TokenEndpoint string

	// ClientIDOverride takes precedence over the persisted client_id.
	ClientIDOverride string
}

// Manager drives authorization-code+PKCE flows. Each flow moves through
// IDLE -> PENDING (Start) -> consumed (Complete) or abandoned (Clear);
// persisted state is single-use.
//
// Multiple flows may be pending concurrently, keyed independently by
// FlowName, so a user-login flow and an app-authorize flow interleaving in
// two browser tabs cannot corrupt each other.
type Manager struct {
	flows      FlowStore
	httpClient *http.Client
	logger     *slog.Logger

	// forwardState echoes the returned state into the token exchange body.
	// RFC 6749 does not use state there; some deployed servers tolerate it.
	// Off unless a server is known to want it.
	forwardState bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerHTTPClient sets a custom HTTP client for token requests.
func WithManagerHTTPClient(httpClient *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = httpClient }
}

// WithManagerLogger sets a custom logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithStateForwarding echoes the callback state into the token exchange.
func WithStateForwarding() ManagerOption {
	return func(m *Manager) { m.forwardState = true }
}

// NewManager creates a flow manager persisting transient state in flows.
func NewManager(flows FlowStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		flows:      flows,
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins (or re-issues) an authorization flow and returns the URL to
// send the user agent to. Flow state is fully persisted before the URL is
// returned, so a callback racing ahead of Start's caller still finds it.
func (m *Manager) Start(ctx context.Context, name FlowName, opts StartOptions) (string, error) {
	var state *FlowState
	if opts.ReuseExisting {
		existing, err := m.flows.Load(ctx, name)
		if err != nil {
			return "", fmt.Errorf("failed to load flow %q: %w", name, err)
		}
		if existing != nil {
			state = existing.WithContext(opts.ClientID, opts.RedirectURI, opts.Scope)
		}
	}
	if state == nil {
		fresh, err := NewFlowState(opts.ClientID, opts.RedirectURI, opts.Scope)
		if err != nil {
			return "", err
		}
		state = fresh
	}

	if err := m.flows.Save(ctx, name, state); err != nil {
		return "", fmt.Errorf("failed to persist flow %q: %w", name, err)
	}

	authorizeURL, err := url.Parse(opts.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := authorizeURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", state.ClientID)
	query.Set("redirect_uri", state.RedirectURI)
	query.Set("scope", state.Scope)
	query.Set("state", state.State)
	query.Set("code_challenge", state.CodeChallenge)
	query.Set("code_challenge_method", state.CodeChallengeMethod)
	authorizeURL.RawQuery = query.Encode()

	m.logger.Debug("authorization flow started", "flow", name, "client_id", state.ClientID)
	return authorizeURL.String(), nil
}

// Complete finishes a pending flow: it validates the returned state against
// the persisted one, exchanges the code for tokens, clears the flow state
// (single-use), and returns the decoded tokens.
//
// The state check happens before any network call; on mismatch the token
// endpoint is never contacted.
func (m *Manager) Complete(ctx context.Context, name FlowName, opts CompleteOptions) (*Token, error) {
	state, err := m.flows.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow %q: %w", name, err)
	}
	if state == nil {
		return nil, &FlowError{Flow: name, Failure: FlowFailureStateMissing}
	}

	if state.State != "" && opts.ReturnedState != "" && opts.ReturnedState != state.State {
		return nil, &FlowError{Flow: name, Failure: FlowFailureStateMismatch}
	}

	clientID := opts.ClientIDOverride
	if clientID == "" {
		clientID = state.ClientID
	}
	if clientID == "" {
		return nil, &FlowError{Flow: name, Failure: FlowFailureClientIDMissing}
	}

	token, err := m.exchangeCode(ctx, opts.TokenEndpoint, opts.Code, state.RedirectURI, clientID, state.CodeVerifier, opts.ReturnedState)
	if err != nil {
		return nil, err
	}

	// The flow is consumed regardless of what the caller does next.
	if err := m.flows.Clear(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to clear flow %q: %w", name, err)
	}

	if token.AccessToken == "" {
		return nil, &FlowError{Flow: name, Failure: FlowFailureAccessTokenMissing}
	}

	m.logger.Debug("authorization flow completed", "flow", name, "client_id", clientID)
	return token, nil
}

// MatchesState reports whether the pending flow's persisted state equals
// stateValue.
func (m *Manager) MatchesState(ctx context.Context, name FlowName, stateValue string) (bool, error) {
	state, err := m.flows.Load(ctx, name)
	if err != nil {
		return false, err
	}
	return state != nil && stateValue != "" && state.State == stateValue, nil
}

// FindFlowByState identifies which pending flow a callback belongs to when
// several flows share one redirect URI. Returns false when no pending flow
// matches.
func (m *Manager) FindFlowByState(ctx context.Context, stateValue string) (FlowName, bool) {
	for _, name := range AllFlows {
		matched, err := m.MatchesState(ctx, name, stateValue)
		if err != nil {
			m.logger.Debug("flow state lookup failed", "flow", name, "error", err)
			continue
		}
		if matched {
			return name, true
		}
	}
	return "", false
}

// Clear abandons a pending flow.
func (m *Manager) Clear(ctx context.Context, name FlowName) error {
	return m.flows.Clear(ctx, name)
}

// ClearAll abandons every pending flow; used on sign-out and error paths.
func (m *Manager) ClearAll(ctx context.Context) error {
	for _, name := range AllFlows {
		if err := m.flows.Clear(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// PendingFlows returns the flows with persisted state, for status displays.
func (m *Manager) PendingFlows(ctx context.Context) ([]FlowName, error) {
	var pending []FlowName
	for _, name := range AllFlows {
		state, err := m.flows.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		if state != nil {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

func (m *Manager) exchangeCode(ctx context.Context, tokenEndpoint, code, redirectURI, clientID, codeVerifier, returnedState string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"code_verifier": {codeVerifier},
	}
	if m.forwardState && returnedState != "" {
		data.Set("state", returnedState)
	}

	return m.doTokenRequest(ctx, tokenEndpoint, data)
}

// RefreshToken obtains a new access token using a refresh token.
func (m *Manager) RefreshToken(ctx context.Context, tokenEndpoint, refreshToken, clientID string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}

	return m.doTokenRequest(ctx, tokenEndpoint, data)
}

func (m *Manager) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TokenExchangeError{
			Endpoint: tokenEndpoint,
			Status:   resp.StatusCode,
			Reason:   http.StatusText(resp.StatusCode),
			Body:     truncateSnippet(body),
		}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	token.SetExpiresAtFromExpiresIn()

	return &token, nil
}
