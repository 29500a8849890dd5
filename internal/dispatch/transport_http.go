package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"coordinator/pkg/logging"
)

// HTTPTransport dispatches over mark3labs/mcp-go's StreamableHTTP client,
// one underlying client per endpoint, lazily initialized and reused across
// calls. It exposes only the CallTool path this Dispatcher needs — no
// resources/prompts listing, which routing dispatch never touches.
type HTTPTransport struct {
	mu      sync.Mutex
	clients map[string]client.MCPClient
}

// NewHTTPTransport creates an HTTPTransport with no connections yet open.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{clients: make(map[string]client.MCPClient)}
}

func (t *HTTPTransport) clientFor(ctx context.Context, endpoint string) (client.MCPClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[endpoint]; ok {
		return c, nil
	}

	c, err := client.NewStreamableHttpClient(endpoint, []transport.StreamableHTTPCOption{}...)
	if err != nil {
		return nil, fmt.Errorf("creating streamable-http client for %s: %w", endpoint, err)
	}

	if _, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo:      mcp.Implementation{Name: "mcp-coordination-core", Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}); err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing MCP handshake with %s: %w", endpoint, err)
	}

	t.clients[endpoint] = c
	logging.Debug("Dispatch", "Opened MCP connection to %s", endpoint)
	return c, nil
}

// Call implements Transport by invoking a tool via CallTool and surfacing
// the MCP's own error/IsError signal as a RemoteError.
func (t *HTTPTransport) Call(ctx context.Context, endpoint, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	c, err := t.clientFor(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: tool, Arguments: args},
	})
	if err != nil {
		return nil, err // left unclassified: transport-level failure
	}

	if result.IsError {
		return nil, &RemoteError{Err: fmt.Errorf("mcp reported tool error for %s", tool)}
	}

	payload, ok := resultToPayload(result)
	if !ok {
		return nil, &MalformedResponseError{Err: fmt.Errorf("unrecognized CallToolResult shape from %s", endpoint)}
	}
	return payload, nil
}

// resultToPayload flattens a CallToolResult's text content blocks into a
// single payload map, the shape the rest of the Coordinator deals in.
func resultToPayload(result *mcp.CallToolResult) (map[string]interface{}, bool) {
	texts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) == 0 {
		return nil, false
	}
	return map[string]interface{}{"text": texts}, true
}

// Close shuts down every open MCP connection.
func (t *HTTPTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for endpoint, c := range t.clients {
		if err := c.Close(); err != nil {
			logging.Warn("Dispatch", "Error closing MCP connection to %s: %v", endpoint, err)
		}
	}
	t.clients = make(map[string]client.MCPClient)
}
