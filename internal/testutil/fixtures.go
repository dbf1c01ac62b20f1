// Package testutil — fixture helpers for seeding jobs and blobs in tests.
package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/visionhub/dispatch/internal/jobstore"
)

// SeedPendingJob inserts a pending job with the given plugin/tools and
// returns it. A single-element tools list produces a JobTypeSingle job
// (Tool populated), anything longer produces JobTypeMulti (Tools
// populated) — mirroring how the HTTP ingress decides job shape. Useful
// for exercising claim/finalize paths without going through it.
func SeedPendingJob(t *testing.T, store *jobstore.Store, pluginID string, tools []string, inputKey string) *jobstore.Job {
	t.Helper()
	job := &jobstore.Job{
		ID:        uuid.NewString(),
		PluginID:  pluginID,
		InputKey:  inputKey,
		Status:    jobstore.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if len(tools) == 1 {
		job.Type = jobstore.JobTypeSingle
		job.Tool = tools[0]
	} else {
		job.Type = jobstore.JobTypeMulti
		job.Tools = tools
	}
	if err := store.Insert(job); err != nil {
		t.Fatalf("seed pending job: %v", err)
	}
	return job
}
