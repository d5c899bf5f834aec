// Package agent hosts the CLI-facing pieces of the OAuth client: the
// session wiring the oauth core to durable storage, a colored Logger, an
// interactive REPL, the local callback server receiving browser redirects,
// a browser launcher, and an MCP endpoint prober that surfaces
// WWW-Authenticate challenges.
//
// # Key Components
//
//   - Session: binds config, discovery, registration, flow management and
//     the SQLite store into the operations the commands call
//   - REPL: interactive Read-Eval-Print Loop for walking a flow step by step
//   - CallbackServer: single-shot HTTP server for the authorization redirect
//   - ProbeEndpoint: unauthenticated contact with an MCP endpoint to learn
//     its authorization requirements
//   - Logger: formatted logging with color support
package agent
