package upstream

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func TestLocalRegisterAndCall(t *testing.T) {
	var l Local
	l.Register(
		&mcp.Tool{Name: "echo", Description: "Echoes input", InputSchema: json.RawMessage(`{"type":"object"}`)},
		func(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			return textResult(args["msg"].(string)), nil
		},
	)

	tools, err := l.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	res, err := l.Call(context.Background(), "echo", map[string]any{"msg": "hello"})
	require.NoError(t, err)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "hello", tc.Text)
}

func TestLocalUnknownTool(t *testing.T) {
	var l Local

	_, err := l.Call(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown tool "missing"`)
}

func TestLocalRegisterReplaces(t *testing.T) {
	var l Local
	tool := &mcp.Tool{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)}

	l.Register(tool, func(_ context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
		return textResult("old"), nil
	})
	l.Register(tool, func(_ context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
		return textResult("new"), nil
	})

	tools, err := l.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)

	res, err := l.Call(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "new", res.Content[0].(*mcp.TextContent).Text)
}

// setupClient connects a Client to a real SDK server over in-memory
// transports. The server runs in a background goroutine tied to t.Cleanup.
func setupClient(t *testing.T) *Client {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "test-upstream", Version: "1.0.0"}, nil)
	server.AddTool(
		&mcp.Tool{Name: "greet", Description: "Say hello", InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`)},
		func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var params struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(req.Params.Arguments, &params); err != nil {
				return nil, err
			}

			return textResult("hello " + params.Name), nil
		},
	)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Run(ctx, serverTransport)
	}()
	t.Cleanup(func() {
		cancel()
		<-serverDone
	})

	client, err := connect(ctx, clientTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestClientTools(t *testing.T) {
	client := setupClient(t)

	tools, err := client.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "greet", tools[0].Name)
	assert.Equal(t, "Say hello", tools[0].Description)
}

func TestClientCall(t *testing.T) {
	client := setupClient(t)

	res, err := client.Call(context.Background(), "greet", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello world", res.Content[0].(*mcp.TextContent).Text)
}

func TestClientCallUnknownTool(t *testing.T) {
	client := setupClient(t)

	_, err := client.Call(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `call "missing"`)
}
