package validate_test

import (
	"testing"

	"github.com/visionhub/dispatch/internal/validate"
)

func TestIsUUID(t *testing.T) {
	if err := validate.IsUUID("job_id", "550e8400-e29b-41d4-a716-446655440000"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := validate.IsUUID("job_id", "not-a-uuid"); err == nil {
		t.Error("expected error for invalid UUID")
	}
	if err := validate.IsUUID("job_id", "' OR 1=1 --"); err == nil {
		t.Error("expected error for SQL injection string")
	}
}

func TestNoPathTraversal(t *testing.T) {
	if err := validate.NoPathTraversal("key", "safe-file.mp4"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := validate.NoPathTraversal("key", "../../../etc/passwd"); err == nil {
		t.Error("expected error for path traversal")
	}
	if err := validate.NoPathTraversal("key", "file\x00name"); err == nil {
		t.Error("expected error for null byte")
	}
}
