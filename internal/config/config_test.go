package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RedirectURI != "http://localhost:8765/callback" {
		t.Errorf("RedirectURI = %q", cfg.RedirectURI)
	}
	if cfg.Scope != "read write" {
		t.Errorf("Scope = %q", cfg.Scope)
	}
	if !cfg.VerifyTLS {
		t.Error("VerifyTLS should default to true")
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.DataPath == "" {
		t.Error("DataPath should have a default")
	}
	if cfg.Profile != "default" {
		t.Errorf("Profile = %q", cfg.Profile)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MYBOOKS_OAUTH_SERVER_URL", "https://auth.example.com")
	t.Setenv("MYBOOKS_OAUTH_SCOPE", "library:read")
	t.Setenv("MYBOOKS_OAUTH_VERIFY_TLS", "false")
	t.Setenv("MYBOOKS_OAUTH_CACHE_TTL", "5m")
	t.Setenv("MYBOOKS_OAUTH_DATA_PATH", "/tmp/creds.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerURL != "https://auth.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Scope != "library:read" {
		t.Errorf("Scope = %q", cfg.Scope)
	}
	if cfg.VerifyTLS {
		t.Error("VerifyTLS should be false")
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
	if cfg.DataPath != "/tmp/creds.db" {
		t.Errorf("DataPath = %q", cfg.DataPath)
	}
}

func TestHTTPClientTLSToggle(t *testing.T) {
	secure := (&Config{VerifyTLS: true, RequestTimeout: time.Second}).HTTPClient()
	if secure.Transport != nil {
		t.Error("verifying client should use the default transport")
	}

	insecure := (&Config{VerifyTLS: false, RequestTimeout: time.Second}).HTTPClient()
	if insecure.Transport == nil {
		t.Fatal("non-verifying client should carry a custom transport")
	}
}
