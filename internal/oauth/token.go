package oauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultExpiryMargin accounts for clock skew and network latency when
// checking token expiry.
const DefaultExpiryMargin = 30 * time.Second

// Token is a decoded token-endpoint response.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	// ExpiresAt is calculated from ExpiresIn at decode time.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// SetExpiresAtFromExpiresIn calculates ExpiresAt from ExpiresIn when unset.
func (t *Token) SetExpiresAtFromExpiresIn() {
	if t.ExpiresIn > 0 && t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// IsExpired reports whether the token has expired or will expire within
// DefaultExpiryMargin. Tokens without an expiration never expire.
func (t *Token) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(DefaultExpiryMargin).After(t.ExpiresAt)
}

// Scopes splits the granted scope string into individual scopes.
func (t *Token) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// ToOAuth2Token converts to an oauth2.Token for use with golang.org/x/oauth2
// consumers.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
	if t.IDToken != "" {
		token = token.WithExtra(map[string]interface{}{"id_token": t.IDToken})
	}
	return token
}

// IDTokenClaims holds identity claims extracted from a JWT ID token for
// display purposes.
type IDTokenClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Issuer  string `json:"iss"`
}

// ParseIDTokenClaims extracts claims from an ID token WITHOUT verifying its
// signature. The claims are used only to show the user who they are signed
// in as; never use them for authorization decisions.
func ParseIDTokenClaims(idToken string) (*IDTokenClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse id_token: %w", err)
	}

	out := &IDTokenClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		out.Issuer = iss
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	return out, nil
}
