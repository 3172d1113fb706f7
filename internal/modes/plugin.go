// Package modes implements the mode detector and the plugin dispatcher: the
// layer that selects the active behavioral variant of the assistant and fans
// analysis/suggestion requests out to the registered mode plugins.
package modes

import (
	"context"
	"fmt"
	"sync"

	"omnidev/internal/types"
)

// ModePlugin is the fixed plugin contract. Each plugin is stateless with
// respect to session data and receives an explicit context argument on every
// call; there is no process-wide plugin state.
//
// Plugins self-filter: a plugin that is not the active mode returns empty
// results from Analyze and Suggest. Dispatch is therefore a plain
// fan-out-and-merge. The self-filtering is slightly redundant (the dispatcher
// could keep a mode->plugin table instead) but keeps dispatch policy in one
// obvious place and lets a future plugin opt into cross-mode behavior.
type ModePlugin interface {
	Mode() types.Mode
	Analyze(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeIssue, error)
	Suggest(ctx context.Context, filePath, content string, actx types.AssistContext) ([]types.CodeSuggestion, error)
	FocusAreas(actx types.AssistContext) []string
}

// Registry is the explicit name->implementation plugin table, built once at
// startup. No runtime introspection: a plugin exists iff it was registered.
type Registry struct {
	mu      sync.RWMutex
	order   []types.Mode
	plugins map[types.Mode]ModePlugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[types.Mode]ModePlugin)}
}

// Register adds a plugin. Registering two plugins for the same mode is a
// startup configuration error.
func (r *Registry) Register(p ModePlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mode := p.Mode()
	if _, exists := r.plugins[mode]; exists {
		return fmt.Errorf("plugin for mode %q already registered", mode)
	}
	r.plugins[mode] = p
	r.order = append(r.order, mode)
	return nil
}

// All returns the plugins in registration order.
func (r *Registry) All() []ModePlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModePlugin, 0, len(r.order))
	for _, mode := range r.order {
		out = append(out, r.plugins[mode])
	}
	return out
}

// Get returns the plugin registered for a mode.
func (r *Registry) Get(m types.Mode) (ModePlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[m]
	return p, ok
}

// RegisterDefaults registers the built-in mode plugins. Called during
// application initialization, before any dispatch.
func RegisterDefaults(r *Registry) error {
	for _, p := range []ModePlugin{
		NewDeveloperPlugin(),
		NewArchitectPlugin(),
		NewReviewerPlugin(),
		NewTesterPlugin(),
	} {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
