package mockplugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_DeclaresBothTools(t *testing.T) {
	p := New()
	m := p.Manifest()

	assert.Equal(t, "dispatch-sample", m.ID)
	assert.Contains(t, m.Tools, "extract_text")
	assert.Contains(t, m.Tools, "detect_motion")
	assert.Equal(t, []string{"image"}, m.Tools["extract_text"].InputKinds)
	assert.Equal(t, []string{"video"}, m.Tools["detect_motion"].InputKinds)
}

func TestRunTool_BeforeLoadFails(t *testing.T) {
	p := New()
	_, err := p.RunTool(context.Background(), "extract_text", nil)
	assert.Error(t, err)
}

func TestRunTool_ExtractText(t *testing.T) {
	p := New()
	require.NoError(t, p.Load(context.Background()))

	result, err := p.RunTool(context.Background(), "extract_text", map[string]any{
		"image_bytes": []byte("fake-png-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, "sample transcription", result["text"])
	assert.Equal(t, 14, result["byte_count"])
}

func TestRunTool_DetectMotion(t *testing.T) {
	p := New()
	require.NoError(t, p.Load(context.Background()))

	result, err := p.RunTool(context.Background(), "detect_motion", map[string]any{
		"video_path": "/data/job-1.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, true, result["motion_detected"])
	assert.Equal(t, "/data/job-1.mp4", result["source"])
}

func TestRunTool_UnknownToolFails(t *testing.T) {
	p := New()
	require.NoError(t, p.Load(context.Background()))

	_, err := p.RunTool(context.Background(), "nonexistent", nil)
	assert.Error(t, err)
}

func TestUnload_ResetsLoadedState(t *testing.T) {
	p := New()
	require.NoError(t, p.Load(context.Background()))
	require.NoError(t, p.Unload(context.Background()))

	_, err := p.RunTool(context.Background(), "extract_text", nil)
	assert.Error(t, err)
}
