package toolvalidate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionhub/dispatch/internal/registry"
)

type fakePlugin struct {
	id    string
	tools map[string]registry.ToolSpec
}

func (f *fakePlugin) Load(ctx context.Context) error   { return nil }
func (f *fakePlugin) Unload(ctx context.Context) error { return nil }
func (f *fakePlugin) Manifest() registry.Manifest {
	return registry.Manifest{ID: f.id, Tools: f.tools}
}
func (f *fakePlugin) RunTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	return nil, nil
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	reg := registry.New(nil)
	reg.LoadAll(context.Background(), map[string]registry.Constructor{
		"ocr": func() registry.Plugin {
			return &fakePlugin{id: "ocr", tools: map[string]registry.ToolSpec{
				"extract_text": {InputKinds: []string{"image"}},
			}}
		},
		"yolo-tracker": func() registry.Plugin {
			return &fakePlugin{id: "yolo-tracker", tools: map[string]registry.ToolSpec{
				"player_detection": {InputKinds: []string{"image", "video"}},
				"ball_detection":   {InputKinds: []string{"image", "video"}},
				"video_track":      {InputKinds: []string{"video"}},
			}}
		},
	})
	return New(reg)
}

func TestValidate_HappyPath(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("ocr", []string{"extract_text"}, "image")
	assert.NoError(t, err)
}

func TestValidate_MultiToolOrdered(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("yolo-tracker", []string{"player_detection", "ball_detection"}, "image")
	assert.NoError(t, err)
}

func TestValidate_UnknownPlugin(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("nope", []string{"extract_text"}, "image")
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestValidate_UnknownTool(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("ocr", []string{"definitely_not_here"}, "image")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTool)

	var unknownErr *UnknownToolError
	require.ErrorAs(t, err, &unknownErr)
	assert.Contains(t, unknownErr.Declared, "extract_text")
}

func TestValidate_UnsupportedInputKind(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("yolo-tracker", []string{"video_track"}, "image")
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

func TestValidate_NoToolsRequested(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("ocr", nil, "image")
	assert.ErrorIs(t, err, ErrNoToolsRequested)
}

func TestValidate_ReservedNameNeverDeclared(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("ocr", []string{"unload"}, "image")
	assert.ErrorIs(t, err, ErrUnknownTool)
}
