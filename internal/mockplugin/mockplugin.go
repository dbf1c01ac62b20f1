// Package mockplugin ships a small, deterministic reference plugin used
// by the integration test suite and as a template for real plugin
// authors. It performs no real inference — it echoes input size and a
// canned result — keeping with the dispatch contract's treatment of a
// plugin's internal analysis code as a black box.
package mockplugin

import (
	"context"
	"fmt"

	"github.com/visionhub/dispatch/internal/registry"
)

// Plugin is the dispatch-sample reference implementation.
type Plugin struct {
	loaded bool
}

// New constructs an unloaded Plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Load(ctx context.Context) error {
	p.loaded = true
	return nil
}

func (p *Plugin) Unload(ctx context.Context) error {
	p.loaded = false
	return nil
}

func (p *Plugin) Manifest() registry.Manifest {
	return registry.Manifest{
		ID:          "dispatch-sample",
		Version:     "1.0.0",
		Description: "Reference plugin with two deterministic, no-op-inference tools.",
		Tools: map[string]registry.ToolSpec{
			"extract_text": {
				Description: "Returns a canned transcription of the uploaded image.",
				InputKinds:  []string{"image"},
			},
			"detect_motion": {
				Description: "Returns a canned motion-detection summary for the uploaded video.",
				InputKinds:  []string{"video"},
			},
		},
	}
}

func (p *Plugin) RunTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if !p.loaded {
		return nil, fmt.Errorf("mockplugin: RunTool called before Load")
	}

	switch tool {
	case "extract_text":
		imageBytes, _ := args["image_bytes"].([]byte)
		return map[string]any{
			"text":       "sample transcription",
			"byte_count": len(imageBytes),
		}, nil
	case "detect_motion":
		videoPath, _ := args["video_path"].(string)
		return map[string]any{
			"motion_detected": true,
			"source":          videoPath,
		}, nil
	default:
		return nil, fmt.Errorf("mockplugin: unknown tool %q", tool)
	}
}
