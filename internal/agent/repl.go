package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"mybooks-oauth/internal/oauth"
)

// errExit is a sentinel error used to signal REPL exit
var errExit = errors.New("exit")

// REPL is the interactive shell for walking an OAuth flow step by step.
type REPL struct {
	session         *Session
	logger          *Logger
	rl              *readline.Instance
	commandHandlers map[string]commandHandler
}

// NewREPL creates a new REPL instance.
func NewREPL(session *Session, logger *Logger) *REPL {
	r := &REPL{
		session: session,
		logger:  logger,
	}
	r.commandHandlers = r.buildCommandHandlers()
	return r
}

// Run starts the REPL.
func (r *REPL) Run(ctx context.Context) error {
	completer := createCompleter()
	historyFile := filepath.Join(os.TempDir(), ".mybooks_oauth_history")

	config := &readline.Config{
		Prompt:          "oauth> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.rl = rl

	r.logger.Info("OAuth REPL started. Type 'help' for available commands. Use TAB for completion.")
	fmt.Println()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("REPL shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}

		fmt.Println()
	}
}

// createCompleter creates the tab completion configuration.
func createCompleter() *readline.PrefixCompleter {
	flowItems := []readline.PrefixCompleterInterface{
		readline.PcItem(string(oauth.FlowUserLogin)),
		readline.PcItem(string(oauth.FlowAppAuthorize)),
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
		readline.PcItem("discover"),
		readline.PcItem("probe"),
		readline.PcItem("register",
			readline.PcItem("force"),
		),
		readline.PcItem("authorize", flowItems...),
		readline.PcItem("complete", flowItems...),
		readline.PcItem("state", flowItems...),
		readline.PcItem("clear", flowItems...),
		readline.PcItem("tokens"),
		readline.PcItem("refresh"),
		readline.PcItem("logout"),
	)
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// commandHandler defines a REPL command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

// buildCommandHandlers creates the map of command handlers
func (r *REPL) buildCommandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"?": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"exit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"quit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"discover": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleDiscover(ctx)
		}},
		"probe": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleProbe(ctx)
		}},
		"register": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			force := len(parts) > 1 && strings.EqualFold(parts[1], "force")
			_, err := r.session.Register(ctx, force)
			return err
		}},
		"authorize": {
			minArgs: 2,
			usage:   "usage: authorize <user_login|app_authorize>",
			handler: func(ctx context.Context, parts []string) error {
				flow, err := oauth.ParseFlowName(parts[1])
				if err != nil {
					return err
				}
				return r.session.Authorize(ctx, flow)
			},
		},
		"complete": {
			minArgs: 4,
			usage:   "usage: complete <flow> <code> <state>",
			handler: func(ctx context.Context, parts []string) error {
				flow, err := oauth.ParseFlowName(parts[1])
				if err != nil {
					return err
				}
				return r.session.Complete(ctx, flow, parts[2], parts[3], "")
			},
		},
		"state": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleState(ctx)
		}},
		"tokens": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleTokens(ctx)
		}},
		"refresh": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.session.Refresh(ctx)
		}},
		"clear": {
			minArgs: 2,
			usage:   "usage: clear <user_login|app_authorize|all>",
			handler: func(ctx context.Context, parts []string) error {
				if strings.EqualFold(parts[1], "all") {
					return r.session.Manager().ClearAll(ctx)
				}
				flow, err := oauth.ParseFlowName(parts[1])
				if err != nil {
					return err
				}
				return r.session.Manager().Clear(ctx, flow)
			},
		},
		"logout": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.session.Logout(ctx)
		}},
	}
}

// executeCommand parses and executes a command
func (r *REPL) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	handler, exists := r.commandHandlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

// showHelp displays available commands
func (r *REPL) showHelp() error {
	fmt.Println("Available commands:")
	fmt.Println("  help, ?                      - Show this help message")
	fmt.Println("  discover                     - Discover authorization server metadata")
	fmt.Println("  probe                        - Probe the endpoint for an OAuth challenge")
	fmt.Println("  register [force]             - Register a dynamic client")
	fmt.Println("  authorize <flow>             - Run a flow end to end (opens a browser)")
	fmt.Println("  complete <flow> <code> <state> - Finish a flow with a pasted callback")
	fmt.Println("  state                        - Show pending flows")
	fmt.Println("  tokens                       - Show stored credentials")
	fmt.Println("  refresh                      - Refresh the app access token")
	fmt.Println("  clear <flow|all>             - Abandon pending flows")
	fmt.Println("  logout                       - Delete stored credentials")
	fmt.Println("  exit, quit                   - Exit the REPL")
	fmt.Println()
	fmt.Println("Flows: user_login, app_authorize")
	fmt.Println()
	fmt.Println("Keyboard shortcuts:")
	fmt.Println("  TAB                          - Auto-complete commands and arguments")
	fmt.Println("  ↑/↓ (arrow keys)             - Navigate command history")
	fmt.Println("  Ctrl+R                       - Search command history")
	fmt.Println("  Ctrl+C                       - Cancel current line")
	fmt.Println("  Ctrl+D                       - Exit REPL")
	return nil
}

func (r *REPL) handleDiscover(ctx context.Context) error {
	metadata, err := r.session.Discover(ctx)
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
	fmt.Printf("PKCE S256 supported:    %v\n", metadata.SupportsS256())
	return nil
}

func (r *REPL) handleProbe(ctx context.Context) error {
	probe, err := ProbeEndpoint(ctx, r.session.cfg.ServerURL, r.session.httpClient, r.logger)
	if err != nil {
		return err
	}

	if !probe.AuthorizationRequired {
		fmt.Printf("Endpoint answered without authorization (server: %s %s)\n", probe.ServerName, probe.ServerVersion)
		return nil
	}

	fmt.Printf("Authorization required (status %d)\n", probe.Status)
	if probe.WWWAuthenticate != "" {
		fmt.Printf("WWW-Authenticate: %s\n", probe.WWWAuthenticate)
	}
	if probe.ResourceMetadataURL != "" {
		fmt.Printf("Resource metadata: %s\n", probe.ResourceMetadataURL)
	}
	return nil
}

func (r *REPL) handleState(ctx context.Context) error {
	pending, err := r.session.Manager().PendingFlows(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending flows.")
		return nil
	}
	for _, flow := range pending {
		fmt.Printf("  %s: pending\n", flow)
	}
	return nil
}

func (r *REPL) handleTokens(ctx context.Context) error {
	creds, err := r.session.Credentials().Load(ctx)
	if err != nil {
		return err
	}
	if creds == nil {
		fmt.Println("No stored credentials.")
		return nil
	}

	fmt.Printf("Registered:          %v", creds.IsRegistered())
	if creds.IsRegistered() {
		fmt.Printf(" (client_id %s)", creds.ClientID)
	}
	fmt.Println()
	fmt.Printf("App authorized:      %v\n", creds.IsAuthorized())
	fmt.Printf("User authenticated:  %v\n", creds.IsUserAuthenticated())
	return nil
}
