package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mybooks-oauth/internal/agent"
	"mybooks-oauth/internal/config"
)

var (
	version string

	serverURL         string
	redirectURI       string
	scope             string
	clientName        string
	registrationToken string
	dataPath          string
	profile           string
	insecure          bool
	verbose           bool
	noColor           bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mybooks-oauth",
	Short: "OAuth 2.1 PKCE client toolkit",
	Long: `mybooks-oauth drives OAuth 2.1 Authorization Code + PKCE flows against
authorization servers with Dynamic Client Registration, end to end from the
terminal.

It discovers server metadata via the RFC 8414 / OIDC well-known conventions
(following RFC 9728 resource_metadata challenges when the target is a
protected resource), registers a public client over RFC 7591, and runs
authorization flows with a local callback server and your default browser.

Credentials and in-flight flow state live in a local SQLite file, so a flow
started in one invocation can be completed in another.

Common usage:

  mybooks-oauth discover  --server-url https://auth.example.com
  mybooks-oauth register  --server-url https://auth.example.com
  mybooks-oauth authorize app_authorize
  mybooks-oauth status
  mybooks-oauth repl

Every flag can also be set through MYBOOKS_OAUTH_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", "", "Authorization server or protected resource URL")
	rootCmd.PersistentFlags().StringVar(&redirectURI, "redirect-uri", "", "OAuth redirect URI for the local callback server")
	rootCmd.PersistentFlags().StringVar(&scope, "scope", "", "Space-separated scopes to request")
	rootCmd.PersistentFlags().StringVar(&clientName, "client-name", "", "Client name submitted on dynamic registration")
	rootCmd.PersistentFlags().StringVar(&registrationToken, "registration-token", "", "Initial access token for servers requiring authenticated registration")
	rootCmd.PersistentFlags().StringVar(&dataPath, "data-path", "", "SQLite file holding credentials and flow state")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Credential profile inside the data file")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development servers only)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newRegisterCmd())
	rootCmd.AddCommand(newAuthorizeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newREPLCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

// loadConfig merges environment configuration with CLI flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if redirectURI != "" {
		cfg.RedirectURI = redirectURI
	}
	if scope != "" {
		cfg.Scope = scope
	}
	if clientName != "" {
		cfg.ClientName = clientName
	}
	if registrationToken != "" {
		cfg.RegistrationToken = registrationToken
	}
	if dataPath != "" {
		cfg.DataPath = dataPath
	}
	if profile != "" {
		cfg.Profile = profile
	}
	if insecure {
		cfg.VerifyTLS = false
	}
	return cfg, nil
}

// newSession builds the logger and session shared by every subcommand.
func newSession() (*agent.Session, *agent.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger := agent.NewLogger(verbose, !noColor)
	session, err := agent.NewSession(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, logger, nil
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()
	return ctx, cancel
}
