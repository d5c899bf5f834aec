// Package sqlite provides durable flow and credential persistence backed by
// a single SQLite file. It implements oauth.FlowStore and
// oauth.CredentialStore so flow state survives process restarts and can be
// shared by multiple workers on one host.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mybooks-oauth/internal/oauth"
)

// DefaultProfile is the credential row used when no profile is selected.
const DefaultProfile = "default"

const schema = `
CREATE TABLE IF NOT EXISTS flow_states (
	name       TEXT PRIMARY KEY,
	state_json TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	profile                     TEXT PRIMARY KEY,
	client_id                   TEXT NOT NULL DEFAULT '',
	access_token                TEXT NOT NULL DEFAULT '',
	refresh_token               TEXT NOT NULL DEFAULT '',
	user_access_token           TEXT NOT NULL DEFAULT '',
	user_refresh_token          TEXT NOT NULL DEFAULT '',
	registration_access_token   TEXT NOT NULL DEFAULT '',
	registration_client_uri     TEXT NOT NULL DEFAULT '',
	registration_client_payload TEXT NOT NULL DEFAULT '',
	updated_at                  INTEGER NOT NULL
);
`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Store persists OAuth flow state and credentials over SQLite. One file
// backs both tables so a flow and the credentials it produces share the same
// durability boundary.
type Store struct {
	sqlDB   *sql.DB
	profile string
}

// Open opens (creating if necessary) the store at path and applies the
// schema. The database runs in WAL mode so a callback handler in a second
// process sees state the moment Start's transaction commits.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB, profile: DefaultProfile}, nil
}

// WithProfile returns a view of the store scoped to a named credential
// profile. Flow state is shared across profiles.
func (s *Store) WithProfile(profile string) *Store {
	if strings.TrimSpace(profile) == "" {
		profile = DefaultProfile
	}
	return &Store{sqlDB: s.sqlDB, profile: profile}
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save upserts flow state under name.
func (s *Store) Save(ctx context.Context, name oauth.FlowName, state *oauth.FlowState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO flow_states (name, state_json, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	state_json = excluded.state_json,
	updated_at = excluded.updated_at`,
		string(name), string(payload), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("save flow state: %w", err)
	}
	return nil
}

// Load returns the flow state for name, or nil when absent. Records that do
// not decode into a complete state are treated as absent so a schema drift
// or torn write forces a flow restart instead of a broken exchange.
func (s *Store) Load(ctx context.Context, name oauth.FlowName) (*oauth.FlowState, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT state_json FROM flow_states WHERE name = ?`, string(name))

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load flow state: %w", err)
	}

	var state oauth.FlowState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, nil
	}
	if !state.Valid() {
		return nil, nil
	}
	return &state, nil
}

// Clear removes the flow state for name. Clearing an absent flow is a no-op.
func (s *Store) Clear(ctx context.Context, name oauth.FlowName) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM flow_states WHERE name = ?`, string(name)); err != nil {
		return fmt.Errorf("clear flow state: %w", err)
	}
	return nil
}

// LoadCredentials returns the stored credentials for the active profile, or
// nil when none exist.
func (s *Store) LoadCredentials(ctx context.Context) (*oauth.Credentials, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT client_id, access_token, refresh_token,
       user_access_token, user_refresh_token,
       registration_access_token, registration_client_uri, registration_client_payload
FROM credentials WHERE profile = ?`, s.profile)

	var creds oauth.Credentials
	var payload string
	err := row.Scan(
		&creds.ClientID, &creds.AccessToken, &creds.RefreshToken,
		&creds.UserAccessToken, &creds.UserRefreshToken,
		&creds.RegistrationAccessToken, &creds.RegistrationClientURI, &payload,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if payload != "" {
		creds.RegistrationPayload = json.RawMessage(payload)
	}
	return &creds, nil
}

// UpdateCredentials applies a partial update inside one transaction so two
// concurrent writers cannot interleave a lost update.
func (s *Store) UpdateCredentials(ctx context.Context, update oauth.CredentialUpdate) (*oauth.Credentials, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credentials update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT client_id, access_token, refresh_token,
       user_access_token, user_refresh_token,
       registration_access_token, registration_client_uri, registration_client_payload
FROM credentials WHERE profile = ?`, s.profile)

	var base *oauth.Credentials
	var current oauth.Credentials
	var payload string
	err = row.Scan(
		&current.ClientID, &current.AccessToken, &current.RefreshToken,
		&current.UserAccessToken, &current.UserRefreshToken,
		&current.RegistrationAccessToken, &current.RegistrationClientURI, &payload,
	)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("load credentials: %w", err)
	default:
		if payload != "" {
			current.RegistrationPayload = json.RawMessage(payload)
		}
		base = &current
	}

	merged := update.Apply(base)

	_, err = tx.ExecContext(ctx, `
INSERT INTO credentials (
	profile, client_id, access_token, refresh_token,
	user_access_token, user_refresh_token,
	registration_access_token, registration_client_uri, registration_client_payload,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(profile) DO UPDATE SET
	client_id = excluded.client_id,
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	user_access_token = excluded.user_access_token,
	user_refresh_token = excluded.user_refresh_token,
	registration_access_token = excluded.registration_access_token,
	registration_client_uri = excluded.registration_client_uri,
	registration_client_payload = excluded.registration_client_payload,
	updated_at = excluded.updated_at`,
		s.profile, merged.ClientID, merged.AccessToken, merged.RefreshToken,
		merged.UserAccessToken, merged.UserRefreshToken,
		merged.RegistrationAccessToken, merged.RegistrationClientURI, string(merged.RegistrationPayload),
		toMillis(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credentials update: %w", err)
	}
	return merged, nil
}

// DeleteCredentials removes the credentials row for the active profile.
func (s *Store) DeleteCredentials(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM credentials WHERE profile = ?`, s.profile); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// CredentialStore adapts the store to the oauth.CredentialStore interface.
type CredentialStore struct {
	store *Store
}

// Credentials returns the store's credential view for the active profile.
func (s *Store) Credentials() *CredentialStore {
	return &CredentialStore{store: s}
}

// Load implements oauth.CredentialStore.
func (c *CredentialStore) Load(ctx context.Context) (*oauth.Credentials, error) {
	return c.store.LoadCredentials(ctx)
}

// Update implements oauth.CredentialStore.
func (c *CredentialStore) Update(ctx context.Context, update oauth.CredentialUpdate) (*oauth.Credentials, error) {
	return c.store.UpdateCredentials(ctx, update)
}

// Delete implements oauth.CredentialStore.
func (c *CredentialStore) Delete(ctx context.Context) error {
	return c.store.DeleteCredentials(ctx)
}

var (
	_ oauth.FlowStore       = (*Store)(nil)
	_ oauth.CredentialStore = (*CredentialStore)(nil)
)
