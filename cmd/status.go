package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored credentials and pending flows",
		Long: `Shows what the local credential store holds for the active profile: the
registered client, which token slots are filled, and any authorization flows
that were started but never completed.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	session, _, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	creds, pending, err := session.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Profile:            %s\n", session.Profile())
	fmt.Printf("Registered client:  %s\n", yesNo(creds.IsRegistered()))
	if creds.IsRegistered() {
		fmt.Printf("Client ID:          %s\n", creds.ClientID)
	}
	fmt.Printf("App authorized:     %s\n", yesNo(creds.IsAuthorized()))
	fmt.Printf("User signed in:     %s\n", yesNo(creds.IsUserAuthenticated()))

	if len(pending) > 0 {
		fmt.Println("Pending flows:")
		for _, flow := range pending {
			fmt.Printf("  - %s\n", flow)
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
