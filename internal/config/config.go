// Package config loads runtime configuration from environment variables.
package config

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every knob the CLI reads from the environment. Flags may
// override individual fields after loading.
type Config struct {
	// ServerURL is the authorization server (or protected resource) the CLI
	// talks to.
	ServerURL string `env:"MYBOOKS_OAUTH_SERVER_URL"`

	// RedirectURI receives the browser callback. The port must be free on
	// this host when the built-in callback server is used.
	RedirectURI string `env:"MYBOOKS_OAUTH_REDIRECT_URI" envDefault:"http://localhost:8765/callback"`

	// Scope is the space-separated scope string requested on authorize.
	Scope string `env:"MYBOOKS_OAUTH_SCOPE" envDefault:"read write"`

	// ClientName is the name submitted on dynamic client registration.
	ClientName string `env:"MYBOOKS_OAUTH_CLIENT_NAME" envDefault:"mybooks"`

	// RegistrationToken authenticates registration requests on servers that
	// require an initial access token.
	RegistrationToken string `env:"MYBOOKS_OAUTH_REGISTRATION_TOKEN"`

	// DataPath is the SQLite file holding flow state and credentials.
	DataPath string `env:"MYBOOKS_OAUTH_DATA_PATH"`

	// Profile selects the credential profile inside the data file.
	Profile string `env:"MYBOOKS_OAUTH_PROFILE" envDefault:"default"`

	// VerifyTLS disables certificate verification when false. Only for
	// development servers with self-signed certificates.
	VerifyTLS bool `env:"MYBOOKS_OAUTH_VERIFY_TLS" envDefault:"true"`

	// RequestTimeout bounds each outbound HTTP request.
	RequestTimeout time.Duration `env:"MYBOOKS_OAUTH_REQUEST_TIMEOUT" envDefault:"10s"`

	// CacheTTL bounds how long discovered metadata is reused.
	CacheTTL time.Duration `env:"MYBOOKS_OAUTH_CACHE_TTL" envDefault:"30m"`
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.DataPath == "" {
		cfg.DataPath = defaultDataPath()
	}
	return &cfg, nil
}

// HTTPClient builds the HTTP client used for every outbound request,
// honoring the timeout and TLS-verification settings.
func (c *Config) HTTPClient() *http.Client {
	client := &http.Client{Timeout: c.RequestTimeout}
	if !c.VerifyTLS {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

// defaultDataPath places the store under the user config dir, falling back
// to the working directory when none is resolvable.
func defaultDataPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "mybooks-oauth.db"
	}
	return filepath.Join(base, "mybooks-oauth", "mybooks-oauth.db")
}
