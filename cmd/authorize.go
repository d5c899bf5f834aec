package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"mybooks-oauth/internal/oauth"
)

// newAuthorizeCmd creates the authorize command.
func newAuthorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authorize [flow]",
		Short: "Run an authorization flow end to end",
		Long: fmt.Sprintf(`Runs an Authorization Code + PKCE flow from start to finish: discovers the
server, registers a client when none is stored, opens your browser, receives
the callback on the local redirect URI, and exchanges the code for tokens.

Flows:
  %s    sign the end user in (tokens land in the user slots)
  %s  authorize the registered application (the default)`,
			oauth.FlowUserLogin, oauth.FlowAppAuthorize),
		Args: cobra.MaximumNArgs(1),
		RunE: runAuthorize,
	}
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	flow := oauth.FlowAppAuthorize
	if len(args) == 1 {
		parsed, err := oauth.ParseFlowName(args[0])
		if err != nil {
			return err
		}
		flow = parsed
	}

	session, _, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return session.Authorize(ctx, flow)
}
