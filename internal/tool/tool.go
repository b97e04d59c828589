// Package tool defines the capability contract the execution loop invokes
// and the registry that holds the tools available to one agent instance.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Annotations declare how a tool behaves so the permission gate can reason
// about tools it has no specific rule for.
type Annotations struct {
	ReadOnly    bool `json:"read_only"`
	Destructive bool `json:"destructive"`
	OpenWorld   bool `json:"open_world"`
	Idempotent  bool `json:"idempotent"`
}

// Tool is a single external capability the model may request.
type Tool interface {
	Name() string
	Description() string
	Annotations() Annotations
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Normalize canonicalizes a tool name for matching: names are compared
// case-insensitively, and an MCP-style "mcp__<server>__" prefix is stripped
// so a tool keeps its identity whether called directly or through a server.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if rest, ok := strings.CutPrefix(n, "mcp__"); ok {
		if idx := strings.LastIndex(rest, "__"); idx >= 0 {
			rest = rest[idx+2:]
		}
		if rest != "" {
			n = rest
		}
	}
	return n
}

// Registry holds the tools for one agent instance. Lookup uses normalized
// names. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a second tool under the same normalized
// name is an error.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}
	key := Normalize(t.Name())

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[key]; exists {
		return fmt.Errorf("tool %q already registered", key)
	}
	r.tools[key] = t
	return nil
}

// Get looks up a tool by name (alias-tolerant).
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[Normalize(name)]
	return t, ok
}

// Names returns the registered normalized names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func adapts a plain function into a Tool.
type Func struct {
	name string
	desc string
	ann  Annotations
	fn   func(ctx context.Context, args map[string]any) (string, error)
}

// NewFunc creates a function-backed tool.
func NewFunc(name, desc string, ann Annotations, fn func(ctx context.Context, args map[string]any) (string, error)) *Func {
	return &Func{name: name, desc: desc, ann: ann, fn: fn}
}

// Name returns the tool name.
func (f *Func) Name() string { return f.name }

// Description returns the tool description.
func (f *Func) Description() string { return f.desc }

// Annotations returns the declared behavior annotations.
func (f *Func) Annotations() Annotations { return f.ann }

// Execute runs the wrapped function.
func (f *Func) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.fn(ctx, args)
}
