// Package toolvalidate is a thin consumer of the plugin registry. It
// decides whether a submission's requested tool set is admissible, using
// the plugin's live tools map as the sole source of truth — a descriptor
// file, if one exists, describes the dispatch protocol a plugin speaks,
// never the catalogue of its tools, and this package never consults one.
package toolvalidate

import (
	"errors"
	"fmt"

	"github.com/visionhub/dispatch/internal/registry"
)

// Error kinds surfaced to the ingress boundary as HTTP 400 or 404.
var (
	ErrUnknownPlugin      = errors.New("toolvalidate: unknown plugin")
	ErrUnknownTool        = errors.New("toolvalidate: unknown tool")
	ErrUnsupportedInput   = errors.New("toolvalidate: tool does not accept this input kind")
	ErrNoToolsRequested   = errors.New("toolvalidate: no tools requested")
)

// Validator resolves plugins through a registry to validate requested
// tool sets before any blob or job row is written.
type Validator struct {
	registry *registry.Registry
}

// New returns a Validator backed by reg.
func New(reg *registry.Registry) *Validator {
	return &Validator{registry: reg}
}

// Validate checks pluginID/toolNames/uploadKind against the plugin's live
// manifest. Returns nil if admissible. declared tool names are included in
// the error for UnknownTool, per the ingress's "detail enumerating known
// values" requirement.
func (v *Validator) Validate(pluginID string, toolNames []string, uploadKind string) error {
	if len(toolNames) == 0 {
		return ErrNoToolsRequested
	}

	manifest, err := v.registry.GetManifest(pluginID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, pluginID)
	}

	for _, t := range toolNames {
		spec, declared := manifest.Tools[t]
		if !declared {
			return &UnknownToolError{Tool: t, Declared: declaredNames(manifest)}
		}
		if !acceptsKind(spec.InputKinds, uploadKind) {
			return fmt.Errorf("%w: tool %s does not accept %s", ErrUnsupportedInput, t, uploadKind)
		}
	}

	return nil
}

// UnknownToolError carries the declared tool list so the ingress can
// surface it in the 400 response body.
type UnknownToolError struct {
	Tool     string
	Declared []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("%v: %q (declared: %v)", ErrUnknownTool, e.Tool, e.Declared)
}

func (e *UnknownToolError) Unwrap() error { return ErrUnknownTool }

func declaredNames(m registry.Manifest) []string {
	names := make([]string, 0, len(m.Tools))
	for name := range m.Tools {
		names = append(names, name)
	}
	return names
}

func acceptsKind(kinds []string, uploadKind string) bool {
	for _, k := range kinds {
		if k == uploadKind {
			return true
		}
	}
	return false
}
