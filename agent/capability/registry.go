// Package capability binds tool names declared on agent records to callable
// handles through a closed, startup-populated table.
package capability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rehearsed/rehearsed/engine"
)

var (
	// ErrCapabilityNotFound is returned for an unknown module or tool.
	ErrCapabilityNotFound = errors.New("capability not found")
	// ErrCapabilityPairing is returned when tool and module lists differ in length.
	ErrCapabilityPairing = errors.New("tool and module lists are not paired")
	// ErrDuplicateCapability is returned when a (module, tool) pair is registered twice.
	ErrDuplicateCapability = errors.New("capability already registered")
)

// Capability is a registered tool implementation.
type Capability struct {
	Description string
	Parameters  map[string]any
	Invoke      engine.ToolFunc
}

type key struct {
	module string
	tool   string
}

// Registry maps (module, tool) pairs to capabilities.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]Capability
	modules map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[key]Capability),
		modules: make(map[string]struct{}),
	}
}

// Register adds a capability under module/tool.
func (r *Registry) Register(module, tool string, c Capability) error {
	if module == "" || tool == "" {
		return fmt.Errorf("register capability: module and tool are required")
	}
	if c.Invoke == nil {
		return fmt.Errorf("register capability %s.%s: nil invoke", module, tool)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{module: module, tool: tool}
	if _, exists := r.entries[k]; exists {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateCapability, module, tool)
	}
	r.entries[k] = c
	r.modules[module] = struct{}{}
	return nil
}

// Resolve binds each positional (tool, module) pair. Names are trimmed and
// empty entries dropped before pairing. Empty input yields an empty result.
func (r *Registry) Resolve(toolNames, moduleNames []string) ([]engine.Tool, error) {
	tools := Clean(toolNames)
	modules := Clean(moduleNames)
	if len(tools) == 0 && len(modules) == 0 {
		return []engine.Tool{}, nil
	}
	if len(tools) != len(modules) {
		return nil, fmt.Errorf("%w: %d tools, %d modules", ErrCapabilityPairing, len(tools), len(modules))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]engine.Tool, 0, len(tools))
	for i, tool := range tools {
		module := modules[i]
		if _, ok := r.modules[module]; !ok {
			return nil, fmt.Errorf("%w: module %q", ErrCapabilityNotFound, module)
		}
		c, ok := r.entries[key{module: module, tool: tool}]
		if !ok {
			return nil, fmt.Errorf("%w: tool %q in module %q", ErrCapabilityNotFound, tool, module)
		}
		out = append(out, engine.Tool{
			Name:        tool,
			Description: c.Description,
			Parameters:  c.Parameters,
			Invoke:      c.Invoke,
		})
	}
	return out, nil
}

// List returns every registered pair as "module.tool", sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k.module+"."+k.tool)
	}
	sort.Strings(out)
	return out
}

// Clean trims every name and drops empties, preserving order.
func Clean(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// SplitList splits a comma-joined list and cleans it.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return Clean(strings.Split(s, ","))
}
