package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

// PKCE code challenge method constant. OAuth 2.1 forbids "plain".
const MethodS256 = "S256"

const (
	verifierMinLen = 43
	verifierMaxLen = 128

	// verifierCharset deliberately matches the original mybooks clients:
	// uppercase letters and digits only. This is narrower than the
	// unreserved set RFC 7636 permits, but remains valid; it is preserved
	// for interop with servers tested against those clients.
	verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// stateEntropyBytes gives the CSRF state parameter 192 bits of entropy.
	stateEntropyBytes = 24
)

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) pair.
type PKCEChallenge struct {
	// CodeVerifier is the random secret kept client-side; it is only ever
	// sent to the token endpoint, never to the browser.
	CodeVerifier string

	// CodeChallenge is base64url(SHA-256(CodeVerifier)) without padding,
	// sent in the authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// GenerateVerifier returns a random PKCE code verifier with a length in
// [43,128] drawn from the uppercase+digit charset.
func GenerateVerifier() (string, error) {
	span := big.NewInt(int64(verifierMaxLen - verifierMinLen + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("failed to pick verifier length: %w", err)
	}
	length := verifierMinLen + int(n.Int64())

	charsetLen := big.NewInt(int64(len(verifierCharset)))
	buf := make([]byte, length)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate verifier: %w", err)
		}
		buf[i] = verifierCharset[idx.Int64()]
	}

	return string(buf), nil
}

// ChallengeFromVerifier derives the S256 code challenge for a verifier:
// the SHA-256 digest of its UTF-8 bytes, base64url-encoded without padding.
func ChallengeFromVerifier(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// GeneratePKCE generates a fresh verifier/challenge pair.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return nil, err
	}
	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       ChallengeFromVerifier(verifier),
		CodeChallengeMethod: MethodS256,
	}, nil
}

// GenerateState returns a random URL-safe state parameter used to bind the
// authorization callback to the request that started it (CSRF defense).
func GenerateState() (string, error) {
	buf := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
