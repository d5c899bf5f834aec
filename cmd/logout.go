package cmd

import (
	"github.com/spf13/cobra"
)

// newLogoutCmd creates the logout command.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored credentials and pending flows",
		Long: `Removes the active profile's stored credentials, including the dynamic
client registration, and abandons any pending authorization flows. The server
side registration is not revoked.`,
		Args: cobra.NoArgs,
		RunE: runLogout,
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	session, logger, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := session.Logout(ctx); err != nil {
		return err
	}
	logger.Success("Credentials cleared")
	return nil
}
