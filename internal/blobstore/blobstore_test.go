package blobstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut_ReturnsSameRelativeKey(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	res, err := store.Put(strings.NewReader("hello"), "abc123.png")
	require.NoError(t, err)
	assert.Equal(t, "abc123.png", res.Key)
	assert.NotEmpty(t, res.SHA256)
}

func TestPut_CreatesParentDirs(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(strings.NewReader("{}"), "output/abc123.json")
	require.NoError(t, err)

	abs, err := store.OpenPath("output/abc123.json")
	require.NoError(t, err)
	_, statErr := os.Stat(abs)
	assert.NoError(t, statErr)
}

func TestPut_RejectsAbsoluteKey(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(strings.NewReader("x"), "/etc/passwd")
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestPut_RejectsTraversal(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(strings.NewReader("x"), "../escape.json")
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestPut_RejectsEmptyKey(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(strings.NewReader("x"), "")
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestOpenPath_ReturnsAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	abs, err := store.OpenPath("foo.mp4")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))
	assert.True(t, strings.HasSuffix(abs, "foo.mp4"))
}

func TestDelete_MissingKeyNotError(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	err = store.Delete("never-existed.png")
	assert.NoError(t, err)
}

func TestDelete_RemovesFile(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(strings.NewReader("x"), "gone.png")
	require.NoError(t, err)

	require.NoError(t, store.Delete("gone.png"))

	abs, err := store.OpenPath("gone.png")
	require.NoError(t, err)
	_, statErr := os.Stat(abs)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPut_ChecksumIsDeterministic(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	r1, err := store.Put(strings.NewReader("same bytes"), "a.bin")
	require.NoError(t, err)
	r2, err := store.Put(strings.NewReader("same bytes"), "b.bin")
	require.NoError(t, err)

	assert.Equal(t, r1.SHA256, r2.SHA256)
}
