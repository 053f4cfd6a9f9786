package upstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler executes one locally served tool.
type Handler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// Local is a Forwarder over in-process handlers. The zero value is ready
// to use.
type Local struct {
	mu       sync.RWMutex
	tools    []*mcp.Tool
	handlers map[string]Handler
}

// Register adds a tool and its handler. A tool with the same name
// replaces the previous registration.
func (l *Local) Register(tool *mcp.Tool, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handlers == nil {
		l.handlers = make(map[string]Handler)
	}
	if _, exists := l.handlers[tool.Name]; !exists {
		l.tools = append(l.tools, tool)
	} else {
		for i, t := range l.tools {
			if t.Name == tool.Name {
				l.tools[i] = tool
				break
			}
		}
	}
	l.handlers[tool.Name] = handler
}

// Tools returns the registered tool definitions.
func (l *Local) Tools(_ context.Context) ([]*mcp.Tool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*mcp.Tool, len(l.tools))
	copy(out, l.tools)

	return out, nil
}

// Call invokes a registered handler.
func (l *Local) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	l.mu.RLock()
	handler, ok := l.handlers[name]
	l.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("upstream: unknown tool %q", name)
	}

	return handler(ctx, args)
}
