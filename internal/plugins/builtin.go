// Package plugins assembles the compile-time constructor map LoadAll
// discovers plugins from. It is kept separate from internal/registry so
// the registry package itself never has to import a concrete plugin.
package plugins

import (
	"github.com/visionhub/dispatch/internal/mockplugin"
	"github.com/visionhub/dispatch/internal/registry"
)

// Builtin returns the constructor map for every plugin shipped with this
// binary. Real deployments extend this map with their own analysis
// plugins; dispatch-sample ships as a working reference implementation.
// This map is the only source LoadAll is given: PLUGIN_SEARCH_PATH is read
// into the config but no plugin discovery uses it.
func Builtin() map[string]registry.Constructor {
	return map[string]registry.Constructor{
		"dispatch-sample": func() registry.Plugin { return mockplugin.New() },
	}
}
