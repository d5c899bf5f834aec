package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// DefaultAuthorizationTimeout bounds how long the CLI waits for the user to
// finish authorizing in the browser.
const DefaultAuthorizationTimeout = 5 * time.Minute

// CallbackResult carries the query parameters the authorization server
// appended to the redirect.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackServer is a single-shot local HTTP server receiving the OAuth
// browser redirect. It binds the host and path of the configured redirect
// URI, hands the first callback to WaitForCallback, and is then done.
type CallbackServer struct {
	redirectURI string
	server      *http.Server
	listener    net.Listener
	resultChan  chan CallbackResult
	errChan     chan error
}

// NewCallbackServer creates a callback server for the given redirect URI.
func NewCallbackServer(redirectURI string) (*CallbackServer, error) {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	if parsed.Host == "" || parsed.Path == "" {
		return nil, fmt.Errorf("redirect URI must carry host and path: %s", redirectURI)
	}

	cs := &CallbackServer{
		redirectURI: redirectURI,
		resultChan:  make(chan CallbackResult, 1),
		errChan:     make(chan error, 1),
	}

	// Isolated mux so nothing leaks into http.DefaultServeMux.
	mux := http.NewServeMux()
	mux.HandleFunc(parsed.Path, cs.handleCallback)

	cs.server = &http.Server{
		Addr:         parsed.Host,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	return cs, nil
}

// Start binds the listener and begins serving in the background.
func (cs *CallbackServer) Start() error {
	listener, err := net.Listen("tcp", cs.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind callback address %s: %w", cs.server.Addr, err)
	}
	cs.listener = listener

	go func() {
		if err := cs.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			cs.errChan <- fmt.Errorf("callback server error: %w", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (cs *CallbackServer) Addr() string {
	if cs.listener == nil {
		return cs.server.Addr
	}
	return cs.listener.Addr().String()
}

func (cs *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	// OAuth callbacks arrive as GET redirects.
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	result := CallbackResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	if result.Error != "" {
		select {
		case cs.resultChan <- result:
		default:
		}
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	select {
	case cs.resultChan <- result:
	default:
		// A second callback after the first is ignored.
	}

	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(`<html><body><h1>Authorization complete</h1><p>You can close this window and return to the terminal.</p></body></html>`))
}

// WaitForCallback blocks until the redirect arrives, the timeout elapses, or
// the context is canceled.
func (cs *CallbackServer) WaitForCallback(ctx context.Context, timeout time.Duration) (CallbackResult, error) {
	if timeout <= 0 {
		timeout = DefaultAuthorizationTimeout
	}

	select {
	case result := <-cs.resultChan:
		if result.Error != "" {
			return result, fmt.Errorf("authorization error: %s - %s", result.Error, result.ErrorDescription)
		}
		if result.Code == "" {
			return result, fmt.Errorf("no authorization code received")
		}
		return result, nil
	case err := <-cs.errChan:
		return CallbackResult{}, err
	case <-time.After(timeout):
		return CallbackResult{}, fmt.Errorf("authorization timeout after %v", timeout)
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

// Shutdown stops the server.
func (cs *CallbackServer) Shutdown(ctx context.Context) error {
	return cs.server.Shutdown(ctx)
}
