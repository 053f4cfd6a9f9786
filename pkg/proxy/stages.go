package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/mcpgate/pkg/elicit"
	"github.com/germanamz/mcpgate/pkg/registry"
)

// Call is one tool invocation threaded through the gate stages. Stages
// may rewrite Args before the call is forwarded; everything else is
// read-only.
type Call struct {
	Name    string
	Desc    registry.Descriptor
	Args    map[string]any
	Session *mcp.ServerSession
}

// Handler executes a call once every stage ahead of it has accepted.
type Handler func(ctx context.Context, call *Call) (*mcp.CallToolResult, error)

// Middleware wraps a Handler, returning a new Handler with added
// behaviour.
type Middleware func(next Handler) Handler

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost (runs first).
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}

		return next
	}
}

// Recovery returns a Middleware that catches panics and converts them to
// errors, so one call's defect never takes down the session.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (res *mcp.CallToolResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("proxy: tool call panicked: %v", r)
				}
			}()

			return next(ctx, call)
		}
	}
}

// Logger returns a Middleware that logs call start, duration, and error.
func Logger(log *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (*mcp.CallToolResult, error) {
			log.InfoContext(ctx, "tool call started", "tool", call.Name)

			start := time.Now()

			res, err := next(ctx, call)

			duration := time.Since(start)

			if err != nil {
				log.WarnContext(ctx, "tool call rejected",
					"tool", call.Name,
					"duration", duration,
					"error", err,
				)
			} else {
				log.InfoContext(ctx, "tool call finished",
					"tool", call.Name,
					"duration", duration,
				)
			}

			return res, err
		}
	}
}

// rootsStage authorizes the call against the client's root set. The root
// snapshot is loaded lazily from the session and invalidated when the
// client announces a roots change. Clients without the roots capability
// skip validation, mirroring the capability-gated nature of roots.
func (p *Proxy) rootsStage(next Handler) Handler {
	return func(ctx context.Context, call *Call) (*mcp.CallToolResult, error) {
		tmpl := p.reg.Template(call.Name)
		if tmpl != nil && call.Session != nil {
			skip, err := p.ensureRoots(ctx, call.Session)
			if err != nil {
				return nil, err
			}
			if !skip {
				if err := p.engine.Authorize(call.Name, tmpl, call.Args); err != nil {
					return nil, err
				}
			}
		}

		return next(ctx, call)
	}
}

// elicitStage runs the one-round-trip human confirmation for flagged
// parameters and substitutes the accepted values into the call.
func (p *Proxy) elicitStage(next Handler) Handler {
	return func(ctx context.Context, call *Call) (*mcp.CallToolResult, error) {
		var prompter elicit.Prompter
		if call.Session != nil {
			prompter = call.Session
		}

		args, err := p.coord.Confirm(ctx, prompter, call.Desc, call.Args)
		if err != nil {
			return nil, err
		}
		call.Args = args

		return next(ctx, call)
	}
}

// visibilityStage rejects calls whose owning group is not enabled.
func (p *Proxy) visibilityStage(next Handler) Handler {
	return func(ctx context.Context, call *Call) (*mcp.CallToolResult, error) {
		if err := p.vis.Check(call.Name); err != nil {
			return nil, err
		}

		return next(ctx, call)
	}
}

// forward hands the accepted call to the upstream endpoint. The result,
// upstream errors included, passes back through untouched.
func (p *Proxy) forward(ctx context.Context, call *Call) (*mcp.CallToolResult, error) {
	return p.fwd.Call(ctx, call.Name, call.Args)
}
