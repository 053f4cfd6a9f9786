// Package upstream abstracts the tool-serving endpoint the gate forwards
// accepted calls to. Client speaks MCP to an external server process or
// URL using the official MCP Go SDK; Local serves in-process handlers so
// a gate can wrap native tools (and tests can count invocations) without
// a subprocess.
package upstream

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Forwarder is the upstream surface the dispatcher needs: the tool list
// and a way to invoke one tool. Call results pass through the gate
// opaquely, including upstream errors.
type Forwarder interface {
	Tools(ctx context.Context) ([]*mcp.Tool, error)
	Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Client is a Forwarder backed by an MCP session to an external server.
type Client struct {
	client  *mcp.Client
	session *mcp.ClientSession
}

// Connect spawns an MCP server process and returns a connected client.
// The SDK performs initialization during Connect.
func Connect(ctx context.Context, command string, args ...string) (*Client, error) {
	transport := &mcp.CommandTransport{
		Command: exec.Command(command, args...), //nolint:gosec // command is caller-provided by design
	}

	return connect(ctx, transport)
}

// ConnectSSE connects to an SSE-based MCP server at the given URL.
func ConnectSSE(ctx context.Context, url string) (*Client, error) {
	return connect(ctx, &mcp.SSEClientTransport{Endpoint: url})
}

// connect creates a Client over the given transport. Used by Connect and
// directly by tests with InMemoryTransport.
func connect(ctx context.Context, transport mcp.Transport) (*Client, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "mcpgate",
		Version: "0.1.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: connect: %w", err)
	}

	return &Client{client: client, session: session}, nil
}

// Tools fetches the upstream tool list.
func (c *Client) Tools(ctx context.Context) ([]*mcp.Tool, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: list tools: %w", err)
	}

	return result.Tools, nil
}

// Call invokes a named tool upstream. The result is returned unmodified,
// IsError results included, so the gate stays an opaque passthrough for
// upstream failures.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream: call %q: %w", name, err)
	}

	return result, nil
}

// Close terminates the session. For command transports the SDK closes
// stdin, waits with a timeout, and escalates through SIGTERM/SIGKILL.
func (c *Client) Close() error {
	return c.session.Close()
}
