// Package visibility tracks which tool groups a session has enabled and,
// through that, which operations are exposed. Groups form a tree: a group
// can be enabled only when it is a root group or its parent is already
// enabled, and disabling a group cascades to all of its descendants.
//
// Enable and Disable are batch operations with per-name error reporting:
// one bad name never aborts the rest of the batch, and the errors travel
// inline in the Result rather than as call failures.
package visibility

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/germanamz/mcpgate/pkg/registry"
)

// ErrGroupDisabled is returned by Check when an operation's owning group
// is not enabled.
var ErrGroupDisabled = errors.New("visibility: group not enabled")

// Options configures a session's visibility state.
type Options struct {
	// MaxTools caps the total number of available operations after an
	// enable. Zero means no ceiling.
	MaxTools int
	// CountMetaTools includes MetaTools in the ceiling alongside domain
	// operations. Whether the control-plane tools count is deliberately
	// configurable rather than fixed.
	CountMetaTools bool
	// MetaTools is the number of control-plane tools the proxy exposes.
	// Only consulted when CountMetaTools is set.
	MetaTools int
}

// Result reports the outcome of an Enable or Disable batch.
type Result struct {
	Changed         []string `json:"changed"`
	Enabled         []string `json:"enabled_groups"`
	Tools           []string `json:"available_tools"`
	AvailableGroups []string `json:"available_groups"`
	Errors          []string `json:"errors"`
}

// State is a single session's enabled-group set. It is safe for
// concurrent use; every mutation happens under the lock so readers
// observe the state fully before or fully after a batch entry, never
// partially.
type State struct {
	reg  *registry.Registry
	opts Options

	mu      sync.Mutex
	enabled map[string]struct{}
}

// New builds the session state. The initial enabled set is the registry's
// Initial-flagged groups, or every root group when none are flagged. A
// flagged group whose parent is not also part of the initial set is a
// startup error.
func New(reg *registry.Registry, opts Options) (*State, error) {
	s := &State{
		reg:     reg,
		opts:    opts,
		enabled: make(map[string]struct{}),
	}

	initial := reg.InitialGroups()
	if len(initial) == 0 {
		initial = reg.RootGroups()
	}
	for _, name := range initial {
		if _, ok := reg.Group(name); !ok {
			return nil, fmt.Errorf("visibility: unknown initial group %q", name)
		}
		s.enabled[name] = struct{}{}
	}
	for _, name := range initial {
		g, _ := reg.Group(name)
		if g.Parent == "" {
			continue
		}
		if _, up := s.enabled[g.Parent]; !up {
			return nil, fmt.Errorf("visibility: cannot initially enable %q: parent %q not enabled", name, g.Parent)
		}
	}

	return s, nil
}

// Enable transitions the named groups to enabled. Each name either
// transitions or contributes a per-name error; the batch never aborts and
// a rejected name never mutates state.
func (s *State) Enable(names []string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed, errs []string
	for _, name := range names {
		if msg := s.enableError(name); msg != "" {
			errs = append(errs, msg)
			continue
		}
		s.enabled[name] = struct{}{}
		changed = append(changed, name)
	}

	return s.result(changed, errs)
}

// enableError returns the reason name cannot be enabled right now, or ""
// when the transition is valid. Caller holds the lock.
func (s *State) enableError(name string) string {
	g, ok := s.reg.Group(name)
	if !ok {
		return fmt.Sprintf("unknown group: %s", name)
	}
	if _, on := s.enabled[name]; on {
		return fmt.Sprintf("group already enabled: %s", name)
	}
	if g.Parent != "" {
		if _, up := s.enabled[g.Parent]; !up {
			return fmt.Sprintf("group %q not visible: enable parent %q first", name, g.Parent)
		}
	}
	if s.opts.MaxTools > 0 {
		projected := len(s.toolsWith(name))
		if s.opts.CountMetaTools {
			projected += s.opts.MetaTools
		}
		if projected > s.opts.MaxTools {
			return fmt.Sprintf(
				"cannot enable %q: would expose %d tools, exceeding max_tools=%d; disable some groups first",
				name, projected, s.opts.MaxTools,
			)
		}
	}

	return ""
}

// Disable transitions the named groups to disabled, cascading through
// all descendants of each. Unknown or already-disabled names contribute
// per-name errors.
func (s *State) Disable(names []string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed, errs []string
	for _, name := range names {
		if _, ok := s.reg.Group(name); !ok {
			errs = append(errs, fmt.Sprintf("unknown group: %s", name))
			continue
		}
		if _, on := s.enabled[name]; !on {
			errs = append(errs, fmt.Sprintf("group not enabled: %s", name))
			continue
		}

		cascade := []string{name}
		delete(s.enabled, name)
		for _, desc := range s.reg.Descendants(name) {
			if _, on := s.enabled[desc]; on {
				delete(s.enabled, desc)
				cascade = append(cascade, desc)
			}
		}
		sort.Strings(cascade)
		changed = append(changed, cascade...)
	}

	return s.result(changed, errs)
}

// Check rejects a call whose owning group is not enabled, naming the
// group to enable. Operations without a declared group, including ones
// the registry has never heard of, pass.
func (s *State) Check(op string) error {
	d, ok := s.reg.Op(op)
	if !ok || d.Group == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, on := s.enabled[d.Group]; on {
		return nil
	}

	return fmt.Errorf("%w: tool %q requires group %q; call enable_tools with it first (currently enabled: %v)",
		ErrGroupDisabled, op, d.Group, s.enabledLocked())
}

// Enabled returns the full enabled set, sorted.
func (s *State) Enabled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enabledLocked()
}

// Tools returns the currently available operations: members of enabled
// groups plus operations declared with no group, sorted.
func (s *State) Tools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.toolsWith("")
}

// AvailableGroups returns the children of enabled groups that are not yet
// enabled themselves, sorted. These are the next groups an agent may
// enable.
func (s *State) AvailableGroups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.availableLocked()
}

// MaxTools returns the configured ceiling, zero when unlimited.
func (s *State) MaxTools() int {
	return s.opts.MaxTools
}

// IsEnabled reports whether a single group is enabled.
func (s *State) IsEnabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, on := s.enabled[name]

	return on
}

func (s *State) enabledLocked() []string {
	out := make([]string, 0, len(s.enabled))
	for name := range s.enabled {
		out = append(out, name)
	}
	sort.Strings(out)

	return out
}

// toolsWith computes the available operations as if extra were also
// enabled. Pass "" for the current set. Caller holds the lock.
func (s *State) toolsWith(extra string) []string {
	out := make([]string, 0, len(s.reg.Ungrouped()))
	out = append(out, s.reg.Ungrouped()...)
	for name := range s.enabled {
		out = append(out, s.reg.Members(name)...)
	}
	if extra != "" {
		out = append(out, s.reg.Members(extra)...)
	}
	sort.Strings(out)

	return out
}

func (s *State) availableLocked() []string {
	out := []string{}
	for name := range s.enabled {
		for _, child := range s.reg.Children(name) {
			if _, on := s.enabled[child]; !on {
				out = append(out, child)
			}
		}
	}
	sort.Strings(out)

	return out
}

// result builds the batch outcome snapshot. Caller holds the lock.
func (s *State) result(changed, errs []string) Result {
	if changed == nil {
		changed = []string{}
	}
	if errs == nil {
		errs = []string{}
	}

	return Result{
		Changed:         changed,
		Enabled:         s.enabledLocked(),
		Tools:           s.toolsWith(""),
		AvailableGroups: s.availableLocked(),
		Errors:          errs,
	}
}
