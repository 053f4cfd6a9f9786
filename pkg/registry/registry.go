// Package registry holds the static per-operation and per-group metadata
// that the gate engines consult: root templates, elicitation prompts, and
// group membership for operations, plus the group hierarchy itself. A
// Registry is built once at startup, validated, and immutable afterwards.
package registry

import (
	"fmt"
	"sort"

	"github.com/yosida95/uritemplate/v3"
)

// Descriptor declares gate metadata for a single operation. All fields
// except Name are optional: an operation with no RootTemplate is always
// authorized by the roots engine, one with no Elicit entries is forwarded
// without human confirmation, and one with no Group is always visible.
type Descriptor struct {
	Name         string
	Description  string
	RootTemplate string
	Elicit       map[string]string // parameter name -> human prompt
	Group        string
}

// Group declares one node of the visibility hierarchy. A Group with no
// Parent is a root group and can be enabled without any prior enable.
type Group struct {
	Name        string
	Description string
	Parent      string
	Initial     bool
}

// Registry is the validated, immutable view of descriptors and groups.
type Registry struct {
	ops       map[string]Descriptor
	templates map[string]*uritemplate.Template
	groups    map[string]Group
	children  map[string][]string
	members   map[string][]string
}

// New validates descriptors and groups and builds the registry. It
// rejects duplicate names, operations referencing unknown groups, groups
// referencing unknown parents, parent cycles, and root templates that do
// not parse. All of these are startup errors, not call-time errors.
func New(descriptors []Descriptor, groups []Group) (*Registry, error) {
	r := &Registry{
		ops:       make(map[string]Descriptor, len(descriptors)),
		templates: make(map[string]*uritemplate.Template),
		groups:    make(map[string]Group, len(groups)),
		children:  make(map[string][]string),
		members:   make(map[string][]string),
	}

	for _, g := range groups {
		if g.Name == "" {
			return nil, fmt.Errorf("registry: group name is required")
		}
		if _, dup := r.groups[g.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate group %q", g.Name)
		}
		r.groups[g.Name] = g
	}

	for _, g := range r.groups {
		if g.Parent == "" {
			continue
		}
		if _, ok := r.groups[g.Parent]; !ok {
			return nil, fmt.Errorf("registry: group %q has unknown parent %q", g.Name, g.Parent)
		}
		r.children[g.Parent] = append(r.children[g.Parent], g.Name)
	}
	for _, kids := range r.children {
		sort.Strings(kids)
	}

	if err := r.checkAcyclic(); err != nil {
		return nil, err
	}

	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("registry: operation name is required")
		}
		if _, dup := r.ops[d.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate operation %q", d.Name)
		}
		if d.Group != "" {
			if _, ok := r.groups[d.Group]; !ok {
				return nil, fmt.Errorf("registry: operation %q references unknown group %q", d.Name, d.Group)
			}
			r.members[d.Group] = append(r.members[d.Group], d.Name)
		}
		if d.RootTemplate != "" {
			tmpl, err := uritemplate.New(d.RootTemplate)
			if err != nil {
				return nil, fmt.Errorf("registry: operation %q: parse root template: %w", d.Name, err)
			}
			r.templates[d.Name] = tmpl
		}
		r.ops[d.Name] = d
	}
	for _, ops := range r.members {
		sort.Strings(ops)
	}

	return r, nil
}

// checkAcyclic walks each group's parent chain. Unknown parents are
// already rejected, so any walk longer than the group count is a cycle.
func (r *Registry) checkAcyclic() error {
	for name := range r.groups {
		seen := map[string]struct{}{name: {}}
		current := r.groups[name].Parent
		for current != "" {
			if _, repeat := seen[current]; repeat {
				return fmt.Errorf("registry: group hierarchy cycle through %q", current)
			}
			seen[current] = struct{}{}
			current = r.groups[current].Parent
		}
	}

	return nil
}

// Op returns the descriptor for an operation and whether it is declared.
func (r *Registry) Op(name string) (Descriptor, bool) {
	d, ok := r.ops[name]
	return d, ok
}

// Template returns the parsed root template for an operation, or nil if
// the operation has none.
func (r *Registry) Template(name string) *uritemplate.Template {
	return r.templates[name]
}

// Ops returns all declared operation names, sorted.
func (r *Registry) Ops() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Group returns a group definition and whether it exists.
func (r *Registry) Group(name string) (Group, bool) {
	g, ok := r.groups[name]
	return g, ok
}

// Groups returns all group names, sorted.
func (r *Registry) Groups() []string {
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// RootGroups returns the names of groups with no parent, sorted.
func (r *Registry) RootGroups() []string {
	var names []string
	for name, g := range r.groups {
		if g.Parent == "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names
}

// InitialGroups returns the names of groups flagged as initially enabled,
// sorted. An empty result means the caller should fall back to the root
// groups.
func (r *Registry) InitialGroups() []string {
	var names []string
	for name, g := range r.groups {
		if g.Initial {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names
}

// Children returns the direct children of a group, sorted.
func (r *Registry) Children(name string) []string {
	return r.children[name]
}

// Descendants returns every group below name in the hierarchy (children,
// grandchildren, and so on), sorted.
func (r *Registry) Descendants(name string) []string {
	var out []string
	queue := append([]string(nil), r.children[name]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		out = append(out, current)
		queue = append(queue, r.children[current]...)
	}
	sort.Strings(out)

	return out
}

// Members returns the operations belonging to a group, sorted.
func (r *Registry) Members(name string) []string {
	return r.members[name]
}

// Ungrouped returns the declared operations that belong to no group,
// sorted. These operations are never gated by visibility.
func (r *Registry) Ungrouped() []string {
	var names []string
	for name, d := range r.ops {
		if d.Group == "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names
}
