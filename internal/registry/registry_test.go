package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlugin struct {
	id         string
	tools      map[string]ToolSpec
	loadErr    error
	unloadErr  error
	runToolErr error
	loaded     bool
}

func (f *fakePlugin) Load(ctx context.Context) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = true
	return nil
}

func (f *fakePlugin) Unload(ctx context.Context) error {
	f.loaded = false
	return f.unloadErr
}

func (f *fakePlugin) Manifest() Manifest {
	return Manifest{ID: f.id, Version: "1.0.0", Description: "fake", Tools: f.tools}
}

func (f *fakePlugin) RunTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if f.runToolErr != nil {
		return nil, f.runToolErr
	}
	return map[string]any{"tool": tool}, nil
}

func newTestRegistry(t *testing.T, constructors map[string]Constructor) *Registry {
	t.Helper()
	r := New(nil)
	r.LoadAll(context.Background(), constructors)
	return r
}

func TestLoadAll_ExcludesPluginThatFailsLoad(t *testing.T) {
	r := newTestRegistry(t, map[string]Constructor{
		"broken": func() Plugin { return &fakePlugin{id: "broken", loadErr: errors.New("boom")} },
		"good":   func() Plugin { return &fakePlugin{id: "good", tools: map[string]ToolSpec{"t": {InputKinds: []string{"image"}}}} },
	})

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].ID)
}

func TestLoadAll_ExcludesReservedToolName(t *testing.T) {
	r := newTestRegistry(t, map[string]Constructor{
		"bad": func() Plugin {
			return &fakePlugin{id: "bad", tools: map[string]ToolSpec{"unload": {InputKinds: []string{"image"}}}}
		},
	})

	assert.Empty(t, r.List())
}

func TestGetManifest_UnknownPlugin(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, err := r.GetManifest("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunTool_UnknownPlugin(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, err := r.RunTool(context.Background(), "nope", "t", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunTool_UnknownTool(t *testing.T) {
	r := newTestRegistry(t, map[string]Constructor{
		"ocr": func() Plugin {
			return &fakePlugin{id: "ocr", tools: map[string]ToolSpec{"extract_text": {InputKinds: []string{"image"}}}}
		},
	})

	_, err := r.RunTool(context.Background(), "ocr", "nonexistent", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRunTool_WrapsPluginError(t *testing.T) {
	r := newTestRegistry(t, map[string]Constructor{
		"ocr": func() Plugin {
			return &fakePlugin{
				id:         "ocr",
				tools:      map[string]ToolSpec{"extract_text": {InputKinds: []string{"image"}}},
				runToolErr: errors.New("model crashed"),
			}
		},
	})

	_, err := r.RunTool(context.Background(), "ocr", "extract_text", nil)
	require.Error(t, err)
	var pluginErr *PluginError
	require.ErrorAs(t, err, &pluginErr)
	assert.Equal(t, "ocr", pluginErr.PluginID)
	assert.Equal(t, "extract_text", pluginErr.Tool)
}

func TestRunTool_Success(t *testing.T) {
	r := newTestRegistry(t, map[string]Constructor{
		"ocr": func() Plugin {
			return &fakePlugin{id: "ocr", tools: map[string]ToolSpec{"extract_text": {InputKinds: []string{"image"}}}}
		},
	})

	result, err := r.RunTool(context.Background(), "ocr", "extract_text", nil)
	require.NoError(t, err)
	assert.Equal(t, "extract_text", result["tool"])
}

func TestList_SortedByID(t *testing.T) {
	r := newTestRegistry(t, map[string]Constructor{
		"zebra": func() Plugin { return &fakePlugin{id: "zebra", tools: map[string]ToolSpec{}} },
		"alpha": func() Plugin { return &fakePlugin{id: "alpha", tools: map[string]ToolSpec{}} },
	})

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "zebra", list[1].ID)
}

func TestUnloadAll_CallsEveryPlugin(t *testing.T) {
	p1 := &fakePlugin{id: "p1", tools: map[string]ToolSpec{}}
	p2 := &fakePlugin{id: "p2", tools: map[string]ToolSpec{}}
	r := newTestRegistry(t, map[string]Constructor{
		"p1": func() Plugin { return p1 },
		"p2": func() Plugin { return p2 },
	})

	r.UnloadAll(context.Background())

	assert.False(t, p1.loaded)
	assert.False(t, p2.loaded)
}
