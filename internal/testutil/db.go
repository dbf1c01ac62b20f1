// Package testutil provides test infrastructure for dispatchd.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    store := testutil.MustOpenJobStore(t)
//	    defer store.Close()
//	    // run tests using store
//	}
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/visionhub/dispatch/internal/jobstore"
)

// JobStorePath returns a fresh temp-dir path for a bbolt job database file.
// Each call returns a distinct path so parallel tests never collide.
func JobStorePath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "dispatch-test.db")
}

// OpenJobStore opens a jobstore.Store backed by a fresh temp-dir bbolt file.
// The caller is responsible for closing the store.
func OpenJobStore(t *testing.T) (*jobstore.Store, error) {
	t.Helper()
	path := JobStorePath(t)
	store, err := jobstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return store, nil
}

// MustOpenJobStore opens a job store and fails the test if it cannot.
func MustOpenJobStore(t *testing.T) *jobstore.Store {
	t.Helper()
	store, err := OpenJobStore(t)
	if err != nil {
		t.Fatalf("testutil: could not open job store: %v", err)
	}
	return store
}

// BlobDir returns a fresh temp directory for a blobstore.Store's base_dir.
func BlobDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "output"), 0o755); err != nil {
		t.Fatalf("testutil: mkdir output dir: %v", err)
	}
	return dir
}
