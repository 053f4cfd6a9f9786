// Package proxy is the dispatcher that sits between an MCP client and an
// upstream tool server. Every tool call passes through a fixed-order
// stage chain (authorize against roots, confirm flagged parameters via
// elicitation, check group visibility) before it is forwarded upstream;
// responses pass back unchanged. The exposed tool list mirrors the
// session's visibility state: enabling or disabling groups through the
// enable_tools/disable_tools meta-tools adds or removes gated tools on
// the facing server, which notifies the client that the list changed.
//
// A Proxy owns one session's mutable policy state (root-set snapshot,
// enabled groups). Serve one client connection per Proxy; concurrent
// sessions each get their own value and never share state.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/mcpgate/pkg/elicit"
	"github.com/germanamz/mcpgate/pkg/registry"
	"github.com/germanamz/mcpgate/pkg/roots"
	"github.com/germanamz/mcpgate/pkg/upstream"
	"github.com/germanamz/mcpgate/pkg/visibility"
)

// Meta-tool names, the control-plane surface exposed alongside the gated
// domain tools.
const (
	EnableToolsName  = "enable_tools"
	DisableToolsName = "disable_tools"
)

// metaToolCount is how many control-plane tools the proxy exposes, used
// when the visibility ceiling is configured to count them.
const metaToolCount = 2

// Options configures a Proxy.
type Options struct {
	Name         string // server name, default "mcpgate"
	Version      string // server version, default "0.1.0"
	Instructions string // optional server instructions for the client

	// MaxTools caps the number of available operations after an enable;
	// zero means no ceiling. CountMetaTools includes the two meta-tools
	// in that count.
	MaxTools       int
	CountMetaTools bool

	// ElicitTimeout bounds each elicitation wait. Zero uses
	// elicit.DefaultTimeout.
	ElicitTimeout time.Duration

	Logger *slog.Logger // default slog.Default()
}

// Proxy routes every protocol message between one client session and the
// upstream endpoint through the gate engines.
type Proxy struct {
	name   string
	log    *slog.Logger
	reg    *registry.Registry
	fwd    upstream.Forwarder
	vis    *visibility.State
	coord  *elicit.Coordinator
	engine *roots.Engine
	server *mcp.Server

	handler Handler

	mu          sync.Mutex
	tools       map[string]*mcp.Tool
	exposed     map[string]struct{}
	rootsLoaded bool
	rootsSkip   bool
}

// New builds a Proxy over the given registry and upstream. It fetches the
// upstream tool list once, registers the meta-tools and the initially
// visible gated tools, and composes the stage chain. The context governs
// only the startup tool fetch.
func New(ctx context.Context, reg *registry.Registry, fwd upstream.Forwarder, opts Options) (*Proxy, error) {
	if opts.Name == "" {
		opts.Name = "mcpgate"
	}
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	vis, err := visibility.New(reg, visibility.Options{
		MaxTools:       opts.MaxTools,
		CountMetaTools: opts.CountMetaTools,
		MetaTools:      metaToolCount,
	})
	if err != nil {
		return nil, err
	}

	tools, err := fwd.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("proxy: fetch upstream tools: %w", err)
	}

	p := &Proxy{
		name:    opts.Name,
		log:     log,
		reg:     reg,
		fwd:     fwd,
		vis:     vis,
		coord:   elicit.NewCoordinator(opts.ElicitTimeout),
		engine:  &roots.Engine{},
		tools:   make(map[string]*mcp.Tool, len(tools)),
		exposed: make(map[string]struct{}),
	}
	for _, t := range tools {
		p.tools[t.Name] = t
	}
	for _, name := range reg.Ops() {
		if _, ok := p.tools[name]; !ok {
			log.Warn("declared operation not served upstream", "tool", name)
		}
	}

	p.server = mcp.NewServer(&mcp.Implementation{
		Name:    opts.Name,
		Version: opts.Version,
	}, &mcp.ServerOptions{
		Instructions:            opts.Instructions,
		RootsListChangedHandler: p.handleRootsChanged,
	})

	p.handler = Chain(
		Recovery(),
		Logger(log),
		p.rootsStage,
		p.elicitStage,
		p.visibilityStage,
	)(p.forward)

	p.server.AddReceivingMiddleware(p.gateHidden)
	p.syncTools()

	return p, nil
}

// Run serves the proxy on the given transport until the context is
// cancelled or the transport closes.
func (p *Proxy) Run(ctx context.Context, transport mcp.Transport) error {
	return p.server.Run(ctx, transport)
}

// Serve runs the proxy over a reader/writer pair, typically stdin and
// stdout.
func (p *Proxy) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return p.Run(ctx, transport)
}

// dispatch is the ToolHandler installed for every gated tool. Policy
// rejections surface as structured tool errors; the upstream handler is
// reached only when every stage accepts.
func (p *Proxy) dispatch(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := map[string]any{}
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}

	desc, ok := p.reg.Op(req.Params.Name)
	if !ok {
		desc = registry.Descriptor{Name: req.Params.Name}
	}

	res, err := p.handler(ctx, &Call{
		Name:    req.Params.Name,
		Desc:    desc,
		Args:    args,
		Session: req.Session,
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	return res, nil
}

// gateHidden rejects calls to declared tools whose group is not enabled
// before the SDK's unknown-tool lookup runs, so the caller learns which
// group to enable instead of being told the tool does not exist.
func (p *Proxy) gateHidden(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if method == "tools/call" {
			if call, ok := req.(*mcp.CallToolRequest); ok {
				if err := p.vis.Check(call.Params.Name); err != nil {
					return errorResult(err.Error()), nil
				}
			}
		}

		return next(ctx, method, req)
	}
}

// handleRootsChanged invalidates the root snapshot; the next templated
// call reloads it, so authorization always sees a whole set.
func (p *Proxy) handleRootsChanged(_ context.Context, _ *mcp.RootsListChangedRequest) {
	p.mu.Lock()
	p.rootsLoaded = false
	p.mu.Unlock()

	p.log.Debug("client roots changed; snapshot invalidated")
}

// ensureRoots loads the client's roots into the engine on first use after
// connect or invalidation. It reports whether root validation should be
// skipped because the client does not expose the capability.
func (p *Proxy) ensureRoots(ctx context.Context, session *mcp.ServerSession) (skip bool, err error) {
	p.mu.Lock()
	if p.rootsLoaded {
		skip = p.rootsSkip
		p.mu.Unlock()

		return skip, nil
	}
	p.mu.Unlock()

	res, listErr := session.ListRoots(ctx, nil)

	p.mu.Lock()
	defer p.mu.Unlock()

	if listErr != nil {
		// The client cannot answer roots/list. Treat the control as not
		// applicable for this session instead of failing every call.
		p.rootsSkip = true
		p.rootsLoaded = true
		p.log.Warn("client does not serve roots/list; root validation skipped", "error", listErr)

		return true, nil
	}

	rs := make([]roots.Root, 0, len(res.Roots))
	for _, r := range res.Roots {
		rs = append(rs, roots.Root{URI: r.URI, Name: r.Name})
	}
	p.engine.Replace(rs)
	p.rootsSkip = false
	p.rootsLoaded = true

	return false, nil
}

// syncTools reconciles the facing server's tool list with the current
// visibility state. The meta-tools are re-registered so their
// descriptions track the group tree. Adding or removing tools makes the
// SDK notify connected clients that the list changed.
func (p *Proxy) syncTools() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.server.AddTool(p.enableTool(), p.handleEnable)
	p.server.AddTool(p.disableTool(), p.handleDisable)

	desired := make(map[string]struct{})
	for _, name := range p.vis.Tools() {
		if _, served := p.tools[name]; served {
			desired[name] = struct{}{}
		}
	}
	// Upstream tools with no declared descriptor pass through ungated.
	for name := range p.tools {
		if _, declared := p.reg.Op(name); !declared {
			desired[name] = struct{}{}
		}
	}

	var remove []string
	for name := range p.exposed {
		if _, keep := desired[name]; !keep {
			remove = append(remove, name)
			delete(p.exposed, name)
		}
	}
	if len(remove) > 0 {
		sort.Strings(remove)
		p.server.RemoveTools(remove...)
	}

	for name := range desired {
		if _, already := p.exposed[name]; !already {
			p.server.AddTool(p.tools[name], p.dispatch)
			p.exposed[name] = struct{}{}
		}
	}
}

// handleEnable implements the enable_tools meta-tool. Per-name errors
// come back inline in the structured result, never as a call error.
func (p *Proxy) handleEnable(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups, err := groupsArg(req.Params.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	res := p.vis.Enable(groups)
	if len(res.Changed) > 0 {
		p.syncTools()
	}

	return structuredResult(res), nil
}

// handleDisable implements the disable_tools meta-tool.
func (p *Proxy) handleDisable(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups, err := groupsArg(req.Params.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	res := p.vis.Disable(groups)
	if len(res.Changed) > 0 {
		p.syncTools()
	}

	return structuredResult(res), nil
}

// groupsArg extracts the "groups" list from meta-tool arguments.
func groupsArg(raw json.RawMessage) ([]string, error) {
	var params struct {
		Groups []string `json:"groups"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	return params.Groups, nil
}

// errorResult converts a gate rejection into a structured tool error.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// structuredResult carries a visibility batch outcome both as structured
// content and as JSON text for clients that only render text.
func structuredResult(res visibility.Result) *mcp.CallToolResult {
	text, err := json.Marshal(res)
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err))
	}

	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(text)}},
		StructuredContent: res,
	}
}

// nopWriteCloser wraps an io.Writer as an io.WriteCloser with a no-op
// Close.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
