package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"mybooks-oauth/internal/config"
	"mybooks-oauth/internal/oauth"
	"mybooks-oauth/internal/storage/sqlite"
)

// Session wires the OAuth core to durable storage and the CLI surfaces: one
// discoverer, one registrar, one flow manager, and the SQLite store behind
// them, all sharing the configured HTTP client.
type Session struct {
	cfg    *config.Config
	logger *Logger

	store      *sqlite.Store
	creds      oauth.CredentialStore
	discoverer *oauth.Discoverer
	registrar  *oauth.Registrar
	manager    *oauth.Manager
	httpClient *http.Client
}

// NewSession opens the credential store and builds the OAuth components
// from configuration.
func NewSession(cfg *config.Config, logger *Logger) (*Session, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DataPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := sqlite.Open(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	httpClient := cfg.HTTPClient()
	slogger := coreLogger(logger)

	s := &Session{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		creds:      store.WithProfile(cfg.Profile).Credentials(),
		httpClient: httpClient,
		discoverer: oauth.NewDiscoverer(
			oauth.WithHTTPClient(httpClient),
			oauth.WithLogger(slogger),
			oauth.WithCacheTTL(cfg.CacheTTL),
		),
		registrar: oauth.NewRegistrar(
			oauth.WithRegistrarHTTPClient(httpClient),
			oauth.WithRegistrarLogger(slogger),
			oauth.WithRegistrationToken(cfg.RegistrationToken),
		),
		manager: oauth.NewManager(store,
			oauth.WithManagerHTTPClient(httpClient),
			oauth.WithManagerLogger(slogger),
		),
	}
	return s, nil
}

// coreLogger adapts CLI verbosity to the structured logger the OAuth core
// expects.
func coreLogger(logger *Logger) *slog.Logger {
	level := slog.LevelWarn
	if logger != nil {
		logger.mu.Lock()
		if logger.verbose {
			level = slog.LevelDebug
		}
		logger.mu.Unlock()
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Close releases the underlying store.
func (s *Session) Close() error {
	return s.store.Close()
}

// Manager exposes the flow manager for callers needing direct control.
func (s *Session) Manager() *oauth.Manager { return s.manager }

// Credentials exposes the credential store.
func (s *Session) Credentials() oauth.CredentialStore { return s.creds }

// Profile returns the active credential profile name.
func (s *Session) Profile() string { return s.cfg.Profile }

// Discover resolves authorization server metadata for the configured server
// URL, following a WWW-Authenticate resource_metadata pointer when the
// target turns out to be a protected resource.
func (s *Session) Discover(ctx context.Context) (*oauth.ServerMetadata, error) {
	if s.cfg.ServerURL == "" {
		return nil, fmt.Errorf("no server URL configured (set --server-url or MYBOOKS_OAUTH_SERVER_URL)")
	}

	probe, err := ProbeEndpoint(ctx, s.cfg.ServerURL, s.httpClient, s.logger)
	if err == nil && probe.ResourceMetadataURL != "" {
		s.logger.Debug("following resource_metadata challenge: %s", probe.ResourceMetadataURL)
		metadata, _, err := s.discoverer.FromResourceMetadataURL(ctx, probe.ResourceMetadataURL)
		if err == nil {
			return metadata, nil
		}
		s.logger.Warning("challenge-directed discovery failed, falling back to well-known probing: %v", err)
	}

	return s.discoverer.ServerMetadata(ctx, s.cfg.ServerURL)
}

// Register performs dynamic client registration against the discovered
// registration endpoint and persists the resulting client.
//
// Registration creates a server-side record per call, so an existing
// client_id is returned as-is unless force is set.
func (s *Session) Register(ctx context.Context, force bool) (*oauth.Credentials, error) {
	existing, err := s.creds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if existing.IsRegistered() && !force {
		s.logger.Info("Client already registered with ID: %s", existing.ClientID)
		return existing, nil
	}

	metadata, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if metadata.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("server %s does not advertise a registration endpoint", metadata.Issuer)
	}

	request := oauth.NewRegistrationRequest(s.cfg.ClientName, s.cfg.RedirectURI, s.cfg.Scope, nil)
	registration, err := s.registrar.Register(ctx, metadata.RegistrationEndpoint, request)
	if err != nil {
		return nil, err
	}

	creds, err := s.creds.Update(ctx, oauth.CredentialUpdate{
		ClientID:                oauth.String(registration.ClientID),
		RegistrationAccessToken: oauth.String(registration.RegistrationAccessToken),
		RegistrationClientURI:   oauth.String(registration.RegistrationClientURI),
		RegistrationPayload:     oauth.RawMessage(registration.Raw),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist registration: %w", err)
	}

	s.logger.Success("Registered client %s", registration.ClientID)
	return creds, nil
}

// Authorize runs the named flow end to end: ensure a registered client,
// start the flow, open the browser, receive the callback, and exchange the
// code. Tokens are persisted under the flow's credential slots.
func (s *Session) Authorize(ctx context.Context, flow oauth.FlowName) error {
	creds, err := s.Register(ctx, false)
	if err != nil {
		return err
	}

	metadata, err := s.Discover(ctx)
	if err != nil {
		return err
	}

	callback, err := NewCallbackServer(s.cfg.RedirectURI)
	if err != nil {
		return err
	}
	if err := callback.Start(); err != nil {
		return err
	}
	defer func() { _ = callback.Shutdown(context.Background()) }()

	authorizeURL, err := s.manager.Start(ctx, flow, oauth.StartOptions{
		ClientID:              creds.ClientID,
		Scope:                 s.cfg.Scope,
		RedirectURI:           s.cfg.RedirectURI,
		AuthorizationEndpoint: metadata.AuthorizationEndpoint,
	})
	if err != nil {
		return err
	}

	s.logger.Info("Opening browser for authorization...")
	s.logger.Info("Authorization URL: %s", authorizeURL)
	if err := OpenBrowser(authorizeURL); err != nil {
		s.logger.Warning("Could not open browser automatically: %v", err)
		s.logger.Info("Please open this URL in your browser:")
		s.logger.Info("%s", authorizeURL)
	}

	s.logger.Info("Waiting for authorization...")
	result, err := callback.WaitForCallback(ctx, DefaultAuthorizationTimeout)
	if err != nil {
		return err
	}
	s.logger.Success("Authorization code received")

	return s.Complete(ctx, flow, result.Code, result.State, metadata.TokenEndpoint)
}

// Complete finishes a pending flow with an externally received callback and
// persists the tokens.
func (s *Session) Complete(ctx context.Context, flow oauth.FlowName, code, state, tokenEndpoint string) error {
	if tokenEndpoint == "" {
		metadata, err := s.Discover(ctx)
		if err != nil {
			return err
		}
		tokenEndpoint = metadata.TokenEndpoint
	}

	token, err := s.manager.Complete(ctx, flow, oauth.CompleteOptions{
		Code:          code,
		ReturnedState: state,
		TokenEndpoint: tokenEndpoint,
	})
	if err != nil {
		return err
	}

	update := oauth.CredentialUpdate{}
	if flow == oauth.FlowUserLogin {
		update.UserAccessToken = oauth.String(token.AccessToken)
		update.UserRefreshToken = oauth.String(token.RefreshToken)
	} else {
		update.AccessToken = oauth.String(token.AccessToken)
		update.RefreshToken = oauth.String(token.RefreshToken)
	}
	if _, err := s.creds.Update(ctx, update); err != nil {
		return fmt.Errorf("failed to persist tokens: %w", err)
	}

	s.logger.Success("Access token obtained")
	if !token.ExpiresAt.IsZero() {
		s.logger.Info("Token expires at %s", token.ExpiresAt.Format(time.RFC3339))
	}
	if token.IDToken != "" {
		if claims, err := oauth.ParseIDTokenClaims(token.IDToken); err == nil {
			s.logger.Info("Signed in as %s (%s)", claims.Subject, claims.Email)
		}
	}
	return nil
}

// Refresh exchanges the stored refresh token for fresh app tokens.
func (s *Session) Refresh(ctx context.Context) error {
	creds, err := s.creds.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds == nil || creds.RefreshToken == "" {
		return fmt.Errorf("no refresh token stored; run authorize first")
	}

	metadata, err := s.Discover(ctx)
	if err != nil {
		return err
	}

	token, err := s.manager.RefreshToken(ctx, metadata.TokenEndpoint, creds.RefreshToken, creds.ClientID)
	if err != nil {
		return err
	}

	update := oauth.CredentialUpdate{AccessToken: oauth.String(token.AccessToken)}
	if token.RefreshToken != "" {
		update.RefreshToken = oauth.String(token.RefreshToken)
	}
	if _, err := s.creds.Update(ctx, update); err != nil {
		return fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	s.logger.Success("Token refreshed")
	return nil
}

// Status returns the stored credentials and the flows still pending.
func (s *Session) Status(ctx context.Context) (*oauth.Credentials, []oauth.FlowName, error) {
	creds, err := s.creds.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	pending, err := s.manager.PendingFlows(ctx)
	if err != nil {
		return nil, nil, err
	}
	return creds, pending, nil
}

// Logout deletes stored credentials and abandons pending flows. Cached
// metadata is invalidated so the next command re-discovers.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.manager.ClearAll(ctx); err != nil {
		return err
	}
	if err := s.creds.Delete(ctx); err != nil {
		return err
	}
	if s.cfg.ServerURL != "" {
		s.discoverer.Invalidate(s.cfg.ServerURL)
	}
	s.logger.Success("Signed out; stored credentials removed")
	return nil
}
