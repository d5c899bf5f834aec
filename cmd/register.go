package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRegisterCmd creates the register command.
func newRegisterCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a dynamic client (RFC 7591)",
		Long: `Registers a public authorization-code client with the discovered
registration endpoint and stores the issued client_id.

Registration creates a client record on the server per call, so an existing
registration is reused unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _, err := newSession()
			if err != nil {
				return err
			}
			defer func() { _ = session.Close() }()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			creds, err := session.Register(ctx, force)
			if err != nil {
				return err
			}

			fmt.Printf("Client ID: %s\n", creds.ClientID)
			if creds.RegistrationClientURI != "" {
				fmt.Printf("Registration client URI: %s\n", creds.RegistrationClientURI)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Register again even when a client_id is already stored")
	return cmd
}
