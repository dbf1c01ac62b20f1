// Package registry is the plugin registry: it loads plugins once at
// startup, exposes list/manifest/run_tool, and answers the one question
// every other component defers to it for — does this plugin advertise
// this tool right now? The registry is the only component that ever talks
// to a plugin instance; nothing else introspects tool handlers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ToolSpec is a single declared capability of a plugin: a human
// description and the upload kinds it accepts.
type ToolSpec struct {
	Description string   `json:"description"`
	InputKinds  []string `json:"input_kinds"`
}

// Manifest is the runtime-derived description of a plugin's tools,
// returned by Manifest() at registration time and never re-derived from a
// separate descriptor file.
type Manifest struct {
	ID          string              `json:"id"`
	Version     string              `json:"version"`
	Description string              `json:"description"`
	Tools       map[string]ToolSpec `json:"-"`
}

// reservedNames are lifecycle hooks; they must never appear as tool names.
var reservedNames = map[string]bool{
	"load":     true,
	"unload":   true,
	"run_tool": true,
	"validate": true,
}

// Plugin is the dispatch contract every plugin satisfies. The registry
// consults only Manifest().Tools to decide what a plugin can do — it never
// reflects over RunTool to discover capabilities.
type Plugin interface {
	Load(ctx context.Context) error
	Manifest() Manifest
	RunTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
	Unload(ctx context.Context) error
}

// Summary is the list() projection: id, version, description only.
type Summary struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

var (
	// ErrNotFound is returned for an unknown plugin id.
	ErrNotFound = errors.New("registry: plugin not found")
	// ErrUnknownTool is returned when tool is absent from the plugin's
	// live tools map.
	ErrUnknownTool = errors.New("registry: unknown tool")
)

// PluginError wraps an error raised from inside a plugin's RunTool.
type PluginError struct {
	PluginID string
	Tool     string
	Err      error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s tool %s: %v", e.PluginID, e.Tool, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// Constructor builds a fresh Plugin instance. Entries come from a static,
// compile-time map (internal/plugins/builtin.go) — Go has no portable,
// unloadable dynamic-plugin story, so LoadAll does not scan shared
// libraries; it instantiates known constructors and calls Load on each.
type Constructor func() Plugin

// Registry owns process-wide plugin instances: loaded once at startup,
// read-only thereafter, torn down once at shutdown. Reads take the shared
// read lock of a sync.RWMutex, so they do not block one another; the read
// path is not lock-free.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	log     *slog.Logger
}

// New creates an empty Registry. Call LoadAll before serving traffic.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{plugins: make(map[string]Plugin), log: log}
}

// LoadAll instantiates each constructor and calls Load. A plugin whose
// Load returns an error is logged and excluded; it does not block
// startup. A plugin declaring a reserved lifecycle name as a tool is
// likewise excluded, with a logged reason.
func (r *Registry) LoadAll(ctx context.Context, constructors map[string]Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, construct := range constructors {
		p := construct()
		if err := p.Load(ctx); err != nil {
			r.log.Warn("plugin failed to load, excluding", "plugin_id", id, "error", err)
			continue
		}

		m := p.Manifest()
		if bad := reservedToolName(m.Tools); bad != "" {
			r.log.Warn("plugin declares a reserved lifecycle name as a tool, excluding",
				"plugin_id", id, "tool", bad)
			continue
		}

		r.plugins[m.ID] = p
		r.log.Info("plugin loaded", "plugin_id", m.ID, "version", m.Version, "tools", len(m.Tools))
	}
}

func reservedToolName(tools map[string]ToolSpec) string {
	for name := range tools {
		if reservedNames[name] {
			return name
		}
	}
	return ""
}

// List returns the registered plugins' summaries, sorted by id for a
// deterministic response.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.plugins))
	for _, p := range r.plugins {
		m := p.Manifest()
		out = append(out, Summary{ID: m.ID, Version: m.Version, Description: m.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetManifest returns the live manifest for pluginID, or ErrNotFound.
func (r *Registry) GetManifest(pluginID string) (Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[pluginID]
	if !ok {
		return Manifest{}, ErrNotFound
	}
	return p.Manifest(), nil
}

// RunTool is the canonical dispatch primitive. It fails ErrNotFound for an
// unknown plugin, ErrUnknownTool for a name absent from that plugin's live
// tools map, and wraps any plugin-raised error as *PluginError.
func (r *Registry) RunTool(ctx context.Context, pluginID, tool string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	p, ok := r.plugins[pluginID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	m := p.Manifest()
	if _, declared := m.Tools[tool]; !declared {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}

	result, err := p.RunTool(ctx, tool, args)
	if err != nil {
		return nil, &PluginError{PluginID: pluginID, Tool: tool, Err: err}
	}
	return result, nil
}

// UnloadAll invokes each loaded plugin's Unload hook. Called once at
// shutdown.
func (r *Registry) UnloadAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, p := range r.plugins {
		if err := p.Unload(ctx); err != nil {
			r.log.Warn("plugin unload failed", "plugin_id", id, "error", err)
		}
	}
}
