// Package elicit suspends a tool call to collect or confirm human-edited
// values for flagged parameters before the call is forwarded upstream.
// Exactly one round-trip happens per qualifying call; acceptance rewrites
// only the flagged arguments and a decline rejects the call with zero
// upstream effect. If the human-interaction channel is unavailable the
// call fails rather than silently bypassing the declared control.
package elicit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/mcpgate/pkg/registry"
)

// ErrDeclined is returned when the human declines or cancels the request.
var ErrDeclined = errors.New("elicit: declined")

// ErrUnavailable is returned when the human-interaction channel cannot be
// reached: no session, a client without the elicitation capability, or a
// wait that exceeded the configured bound.
var ErrUnavailable = errors.New("elicit: channel unavailable")

// DefaultTimeout bounds the wait for a human reply so a dead channel
// cannot suspend a call indefinitely.
const DefaultTimeout = 5 * time.Minute

// Prompter sends one elicitation request and waits for the reply.
// *mcp.ServerSession satisfies it.
type Prompter interface {
	Elicit(ctx context.Context, params *mcp.ElicitParams) (*mcp.ElicitResult, error)
}

// Field is one flagged parameter within a request: its name, the human
// prompt declared for it, and the value proposed by the caller.
type Field struct {
	Name   string
	Prompt string
	Value  any
}

// Fields extracts the flagged parameters of a descriptor with their
// proposed values, sorted by name.
func Fields(desc registry.Descriptor, args map[string]any) []Field {
	out := make([]Field, 0, len(desc.Elicit))
	for name, prompt := range desc.Elicit {
		out = append(out, Field{Name: name, Prompt: prompt, Value: args[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Coordinator performs the confirmation round-trip.
type Coordinator struct {
	timeout time.Duration
}

// NewCoordinator creates a Coordinator. A non-positive timeout falls back
// to DefaultTimeout.
func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Coordinator{timeout: timeout}
}

// Confirm runs at most one elicitation round-trip for the call. When the
// descriptor flags no parameters the arguments are returned unchanged and
// the channel is never touched. On acceptance the returned map is a copy
// of args with exactly the flagged parameters overwritten by the human's
// values; parameters left out of the reply keep their proposed values.
func (c *Coordinator) Confirm(ctx context.Context, p Prompter, desc registry.Descriptor, args map[string]any) (map[string]any, error) {
	fields := Fields(desc, args)
	if len(fields) == 0 {
		return args, nil
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no session for operation %q", ErrUnavailable, desc.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := p.Elicit(ctx, &mcp.ElicitParams{
		Message:         fmt.Sprintf("Confirm parameters for %s", desc.Name),
		RequestedSchema: requestSchema(fields),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: operation %q: %v", ErrUnavailable, desc.Name, err)
	}

	switch res.Action {
	case "accept":
		out := make(map[string]any, len(args))
		for k, v := range args {
			out[k] = v
		}
		for _, f := range fields {
			if v, ok := res.Content[f.Name]; ok {
				out[f.Name] = v
			}
		}

		return out, nil
	case "decline", "cancel":
		return nil, fmt.Errorf("%w: operation %q: %s", ErrDeclined, desc.Name, res.Action)
	default:
		return nil, fmt.Errorf("%w: operation %q: unexpected action %q", ErrUnavailable, desc.Name, res.Action)
	}
}

// requestSchema builds the flat object schema the client renders: one
// property per flagged parameter, typed from the proposed value, with the
// proposed value as the default.
func requestSchema(fields []Field) *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		prop := &jsonschema.Schema{
			Type:        valueType(f.Value),
			Description: f.Prompt,
		}
		if f.Value != nil {
			if raw, err := json.Marshal(f.Value); err == nil {
				prop.Default = json.RawMessage(raw)
			}
		}
		props[f.Name] = prop
		required = append(required, f.Name)
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// valueType maps a proposed JSON value to an elicitation-safe primitive
// schema type. Elicitation schemas are flat, so anything non-primitive is
// presented as a string.
func valueType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case float64, float32:
		return "number"
	case int, int32, int64:
		return "integer"
	default:
		return "string"
	}
}
