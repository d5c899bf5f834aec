package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newDiscoverCmd creates the discover command.
func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Discover authorization server metadata",
		Long: `Resolves authorization server metadata for the configured server URL.

The well-known candidates are probed per RFC 8414 and OIDC Discovery. When
the target answers with a 401 carrying a resource_metadata challenge, that
URL is followed first (RFC 9728).`,
		RunE: runDiscover,
	}
}

func runDiscover(cmd *cobra.Command, args []string) error {
	session, _, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	metadata, err := session.Discover(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Issuer:                 %s\n", metadata.Issuer)
	fmt.Printf("Authorization endpoint: %s\n", metadata.AuthorizationEndpoint)
	fmt.Printf("Token endpoint:         %s\n", metadata.TokenEndpoint)
	if metadata.RegistrationEndpoint != "" {
		fmt.Printf("Registration endpoint:  %s\n", metadata.RegistrationEndpoint)
	}
	if metadata.RevocationEndpoint != "" {
		fmt.Printf("Revocation endpoint:    %s\n", metadata.RevocationEndpoint)
	}
	if len(metadata.ScopesSupported) > 0 {
		fmt.Printf("Scopes supported:       %s\n", strings.Join(metadata.ScopesSupported, " "))
	}
	if len(metadata.GrantTypesSupported) > 0 {
		fmt.Printf("Grant types supported:  %s\n", strings.Join(metadata.GrantTypesSupported, " "))
	}
	fmt.Printf("PKCE S256 supported:    %v\n", metadata.SupportsS256())
	return nil
}
