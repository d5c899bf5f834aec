package agent

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"mybooks-oauth/internal/oauth"
)

// ProbeResult describes what an unauthenticated contact with an MCP
// endpoint revealed.
type ProbeResult struct {
	Endpoint string

	// AuthorizationRequired is true when the endpoint rejected the
	// initialize handshake pending OAuth authorization.
	AuthorizationRequired bool

	// Status and WWWAuthenticate come from the raw challenge response.
	Status          int
	WWWAuthenticate string

	// ResourceMetadataURL is the RFC 9728 pointer extracted from the
	// challenge, when the server advertises one. Discovery should start
	// there instead of guessing well-known URLs.
	ResourceMetadataURL string

	// ServerName and ServerVersion are set when the handshake succeeded
	// without authorization.
	ServerName    string
	ServerVersion string
}

// ProbeEndpoint contacts an MCP endpoint without credentials to learn its
// authorization requirements. It runs the MCP initialize handshake to
// classify the endpoint, then captures the WWW-Authenticate challenge with a
// raw request, since the MCP transport does not surface response headers.
func ProbeEndpoint(ctx context.Context, endpoint string, httpClient *http.Client, logger *Logger) (*ProbeResult, error) {
	result := &ProbeResult{Endpoint: endpoint}

	mcpClient, err := client.NewStreamableHttpClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer func() { _ = mcpClient.Close() }()

	startErr := mcpClient.Start(ctx)
	if startErr == nil {
		req := mcp.InitializeRequest{}
		req.Params.ProtocolVersion = "2024-11-05"
		req.Params.ClientInfo = mcp.Implementation{Name: "mybooks-oauth", Version: "probe"}

		initResult, initErr := mcpClient.Initialize(ctx, req)
		if initErr == nil {
			result.ServerName = initResult.ServerInfo.Name
			result.ServerVersion = initResult.ServerInfo.Version
			logger.Debug("endpoint %s answered initialize without authorization", endpoint)
			return result, nil
		}
		startErr = initErr
	}

	if !client.IsOAuthAuthorizationRequiredError(startErr) {
		// 401 without the MCP OAuth marker still counts when the raw
		// request confirms it below; other errors are fatal.
		if status, header, rawErr := rawChallenge(ctx, endpoint, httpClient); rawErr == nil && status == http.StatusUnauthorized {
			result.AuthorizationRequired = true
			result.Status = status
			result.WWWAuthenticate = header
			result.ResourceMetadataURL = oauth.ExtractResourceMetadataURL(header)
			return result, nil
		}
		return nil, fmt.Errorf("endpoint probe failed: %w", startErr)
	}

	result.AuthorizationRequired = true
	logger.Debug("endpoint %s requires OAuth authorization", endpoint)

	status, header, err := rawChallenge(ctx, endpoint, httpClient)
	if err != nil {
		logger.Debug("could not capture WWW-Authenticate challenge: %v", err)
		return result, nil
	}
	result.Status = status
	result.WWWAuthenticate = header
	result.ResourceMetadataURL = oauth.ExtractResourceMetadataURL(header)

	return result, nil
}

// rawChallenge issues a bare request to the endpoint and returns the status
// and WWW-Authenticate header.
func rawChallenge(ctx context.Context, endpoint string, httpClient *http.Client) (int, string, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: oauth.DefaultRequestTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, resp.Header.Get("WWW-Authenticate"), nil
}
