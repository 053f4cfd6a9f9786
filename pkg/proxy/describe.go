package proxy

import (
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// groupsSchema is the input shape shared by both meta-tools.
func groupsSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"groups": {
				Type:        "array",
				Description: "Group names to act on",
				Items:       &jsonschema.Schema{Type: "string"},
			},
		},
		Required: []string{"groups"},
	}
}

// resultSchema describes the structured batch outcome.
func resultSchema() *jsonschema.Schema {
	stringList := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{
			Type:        "array",
			Description: desc,
			Items:       &jsonschema.Schema{Type: "string"},
		}
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"changed":          stringList("Groups whose state actually changed"),
			"enabled_groups":   stringList("Full set of enabled groups"),
			"available_tools":  stringList("Operations currently available"),
			"available_groups": stringList("Child groups that can be enabled next"),
			"errors":           stringList("Per-name errors; the batch never aborts"),
		},
		Required: []string{"changed", "enabled_groups", "available_tools", "available_groups", "errors"},
	}
}

// enableTool builds the enable_tools definition. The description renders
// the group tree with enablement markers so an agent can discover what to
// enable next; children appear only under enabled parents.
func (p *Proxy) enableTool() *mcp.Tool {
	var b strings.Builder
	b.WriteString("Enable tool groups for use.\n\nAvailable groups:\n")

	var writeGroup func(name string, indent int)
	writeGroup = func(name string, indent int) {
		g, _ := p.reg.Group(name)
		enabled := p.vis.IsEnabled(name)

		b.WriteString(strings.Repeat("  ", indent))
		b.WriteString("- " + name)
		if g.Description != "" {
			b.WriteString(": " + g.Description)
		}
		if enabled {
			b.WriteString(" (enabled)")
		}
		b.WriteString("\n")

		if enabled {
			for _, child := range p.reg.Children(name) {
				writeGroup(child, indent+1)
			}
		}
	}
	for _, name := range p.reg.RootGroups() {
		writeGroup(name, 0)
	}

	if p.vis.MaxTools() > 0 {
		fmt.Fprintf(&b, "\nMax tools limit: %d (current: %d)\n", p.vis.MaxTools(), len(p.vis.Tools()))
	}

	return &mcp.Tool{
		Name:         EnableToolsName,
		Description:  strings.TrimRight(b.String(), "\n"),
		InputSchema:  groupsSchema(),
		OutputSchema: resultSchema(),
	}
}

// disableTool builds the disable_tools definition, listing what is
// currently enabled.
func (p *Proxy) disableTool() *mcp.Tool {
	var b strings.Builder
	b.WriteString("Disable tool groups to reduce context.\n\n")

	enabled := p.vis.Enabled()
	if len(enabled) == 0 {
		b.WriteString("No groups currently enabled.")
	} else {
		b.WriteString("Currently enabled:\n")
		for _, name := range enabled {
			g, _ := p.reg.Group(name)
			b.WriteString("- " + name)
			if g.Description != "" {
				b.WriteString(": " + g.Description)
			}
			b.WriteString("\n")
		}
	}

	return &mcp.Tool{
		Name:         DisableToolsName,
		Description:  strings.TrimRight(b.String(), "\n"),
		InputSchema:  groupsSchema(),
		OutputSchema: resultSchema(),
	}
}
