// Package roots authorizes operations against client-declared root URIs.
// An operation carrying a root template is allowed only when the template,
// rendered with the call's arguments, lands on or under one of the roots
// the client currently holds. The root set is replaced as a whole and
// every authorization observes a single atomic snapshot of it.
package roots

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/yosida95/uritemplate/v3"
)

// ErrAccessDenied is returned when a rendered resource URI is not equal
// to, or a path-segment descendant of, any held root.
var ErrAccessDenied = errors.New("roots: access denied")

// ConfigError reports a root template whose placeholder has no matching
// call argument. This is a server-side declaration defect, distinct from
// an access denial.
type ConfigError struct {
	Op          string
	Placeholder string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("roots: operation %q: no argument for template placeholder %q", e.Op, e.Placeholder)
}

// Root is a client-declared URI boundary.
type Root struct {
	URI  string
	Name string
}

// Engine holds the session's root set. The zero value is ready to use and
// holds no roots, which denies every templated operation.
type Engine struct {
	mu    sync.RWMutex
	roots []Root
}

// Replace swaps the entire root set. Concurrent Authorize calls observe
// either the previous set or the new one, never a mix.
func (e *Engine) Replace(roots []Root) {
	copied := make([]Root, len(roots))
	copy(copied, roots)

	e.mu.Lock()
	e.roots = copied
	e.mu.Unlock()
}

// Snapshot returns a copy of the current root set.
func (e *Engine) Snapshot() []Root {
	e.mu.RLock()
	defer e.mu.RUnlock()

	copied := make([]Root, len(e.roots))
	copy(copied, e.roots)

	return copied
}

// Authorize checks a call's arguments against the held roots. Operations
// without a template (tmpl == nil) are always authorized. The first
// matching root suffices.
func (e *Engine) Authorize(op string, tmpl *uritemplate.Template, args map[string]any) error {
	if tmpl == nil {
		return nil
	}

	values := uritemplate.Values{}
	for _, name := range tmpl.Varnames() {
		v, ok := args[name]
		if !ok || v == nil {
			return &ConfigError{Op: op, Placeholder: name}
		}
		values[name] = uritemplate.String(fmt.Sprintf("%v", v))
	}

	resource, err := tmpl.Expand(values)
	if err != nil {
		return fmt.Errorf("roots: operation %q: expand root template: %w", op, err)
	}

	snapshot := e.Snapshot()
	if len(snapshot) == 0 {
		return fmt.Errorf("%w: no roots configured", ErrAccessDenied)
	}

	for _, root := range snapshot {
		if underRoot(resource, root.URI) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s is not within any configured root", ErrAccessDenied, resource)
}

// underRoot reports whether resource equals root or is a path-segment
// descendant of it. Scheme and authority must match exactly; the path is
// compared segment by segment so "/acme-evil" never matches root "/acme".
func underRoot(resource, root string) bool {
	ru, err := url.Parse(resource)
	if err != nil {
		return false
	}
	rt, err := url.Parse(root)
	if err != nil {
		return false
	}

	if !strings.EqualFold(ru.Scheme, rt.Scheme) || ru.Host != rt.Host {
		return false
	}

	rootSegs := pathSegments(rt.EscapedPath())
	resSegs := pathSegments(ru.EscapedPath())
	if len(resSegs) < len(rootSegs) {
		return false
	}
	for i, seg := range rootSegs {
		if resSegs[i] != seg {
			return false
		}
	}

	return true
}

// pathSegments splits a URI path into its segments, ignoring leading and
// trailing slashes. An empty or "/" path yields no segments, so a root
// like "https://example.com/" covers the whole authority.
func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "/")
}
