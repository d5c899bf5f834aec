package cmd

import (
	"github.com/spf13/cobra"

	"mybooks-oauth/internal/agent"
)

// newREPLCmd creates the repl command.
func newREPLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session",
		Long: `Starts an interactive prompt with tab completion for walking through
discovery, registration, and authorization step by step. Type 'help' inside
the session for the command list.`,
		Args: cobra.NoArgs,
		RunE: runREPL,
	}
}

func runREPL(cmd *cobra.Command, args []string) error {
	session, logger, err := newSession()
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return agent.NewREPL(session, logger).Run(ctx)
}
