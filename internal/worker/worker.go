// Package worker implements the single background loop that drains the
// pending-job backlog: poll, claim, dispatch, finalize. The loop is
// deliberately blocking — plugin dispatch runs on the worker's own stack,
// never on the ingress's request-handling goroutines — and it never
// retries a failed tool invocation; at-least-once delivery applies only
// to the claim step.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/visionhub/dispatch/internal/blobstore"
	"github.com/visionhub/dispatch/internal/health"
	"github.com/visionhub/dispatch/internal/jobstore"
	"github.com/visionhub/dispatch/internal/metrics"
	"github.com/visionhub/dispatch/internal/progressbus"
	"github.com/visionhub/dispatch/internal/registry"
	"github.com/visionhub/dispatch/pkg/telemetry"
)

// Worker owns the single-goroutine claim/execute loop.
type Worker struct {
	jobs         *jobstore.Store
	blobs        *blobstore.Store
	registry     *registry.Registry
	bus          *progressbus.Bus
	heartbeat    *health.Heartbeat
	pollInterval time.Duration
	toolTimeout  time.Duration
	log          *slog.Logger
}

// New constructs a Worker. toolTimeout of zero means no per-tool deadline.
func New(
	jobs *jobstore.Store,
	blobs *blobstore.Store,
	reg *registry.Registry,
	bus *progressbus.Bus,
	heartbeat *health.Heartbeat,
	pollInterval time.Duration,
	toolTimeout time.Duration,
	log *slog.Logger,
) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		jobs:         jobs,
		blobs:        blobs,
		registry:     reg,
		bus:          bus,
		heartbeat:    heartbeat,
		pollInterval: pollInterval,
		toolTimeout:  toolTimeout,
		log:          log,
	}
}

// Run blocks, draining jobs until ctx is cancelled. A stop signal exits
// the loop only between iterations — an in-flight execute(job) always
// runs to completion or failure first.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", "poll_interval", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return
		default:
		}

		w.heartbeat.Touch()

		job, err := w.jobs.ClaimOldestPending()
		if err != nil {
			w.log.Error("claim failed", "error", err)
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}

		metrics.QueueDepth.Dec()
		w.execute(ctx, job)
	}
}

// sleep waits one jittered poll interval, or returns early if ctx is
// cancelled.
func (w *Worker) sleep(ctx context.Context) {
	jitter := time.Duration(rand.Int63n(int64(w.pollInterval) / 4 + 1))
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval + jitter):
	}
}

// execute runs every tool a job names, fail-fast, and finalizes the job.
// Any unhandled error — blob I/O, a plugin error, a tool timeout — ends
// the job as failed; execute never panics the worker loop.
func (w *Worker) execute(ctx context.Context, job *jobstore.Job) {
	w.bus.Publish(job.ID, progressbus.Event{Status: string(jobstore.StatusRunning)})

	result, err := w.runTools(ctx, job)
	if err != nil {
		w.fail(job, err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		w.fail(job, fmt.Errorf("serialize result: %w", err))
		return
	}

	putRes, err := w.blobs.Put(strings.NewReader(string(data)), fmt.Sprintf("output/%s.json", job.ID))
	if err != nil {
		w.fail(job, fmt.Errorf("write output blob: %w", err))
		return
	}

	if err := w.jobs.FinalizeSuccess(job.ID, putRes.Key); err != nil {
		w.log.Error("finalize_success failed", "job_id", job.ID, "error", err)
		return
	}

	metrics.JobsTotal.WithLabelValues(job.PluginID, "completed").Inc()
	w.bus.Publish(job.ID, progressbus.Event{Status: string(jobstore.StatusCompleted)})
}

// runTools builds args per upload kind, dispatches each tool in order, and
// returns the output shape described in the spec's §4.6: a single
// "results" mapping for a single-tool job, or a {plugin_id, tools} mapping
// for a multi-tool job.
func (w *Worker) runTools(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
	inputAbs, err := w.blobs.OpenPath(job.InputKey)
	if err != nil {
		return nil, fmt.Errorf("resolve input blob: %w", err)
	}

	args, err := buildArgs(job, inputAbs)
	if err != nil {
		return nil, err
	}

	tools := job.ToolNames()
	perTool := make(map[string]map[string]any, len(tools))

	// Tool calls run under a context detached from ctx's cancellation, so a
	// stop signal never interrupts an in-flight invocation.
	baseCtx := context.WithoutCancel(ctx)

	for i, tool := range tools {
		toolCtx := baseCtx
		var cancel context.CancelFunc
		if w.toolTimeout > 0 {
			toolCtx, cancel = context.WithTimeout(baseCtx, w.toolTimeout)
		}

		start := time.Now()
		out, err := w.registry.RunTool(toolCtx, job.PluginID, tool, args)
		metrics.ToolDuration.WithLabelValues(job.PluginID, tool).Observe(time.Since(start).Seconds())
		if cancel != nil {
			cancel()
		}
		if err != nil {
			telemetry.CaptureError(err, map[string]string{
				"job_id":    job.ID,
				"plugin_id": job.PluginID,
				"tool":      tool,
			})
			return nil, err
		}

		perTool[tool] = out

		w.bus.Publish(job.ID, progressbus.Event{
			Status:        string(jobstore.StatusRunning),
			CompletedTool: i + 1,
			TotalTools:    len(tools),
		})
	}

	if job.Type == jobstore.JobTypeMulti {
		return map[string]any{
			"plugin_id": job.PluginID,
			"tools":     perTool,
		}, nil
	}
	return map[string]any{"results": perTool[tools[0]]}, nil
}

// buildArgs assembles the dispatch args for a job per its upload kind,
// inferred from the input key's extension: image uploads pass the raw
// bytes, video uploads pass the blob's absolute path (plugins stream the
// file themselves rather than loading a whole video into memory).
func buildArgs(job *jobstore.Job, inputAbs string) (map[string]any, error) {
	if strings.HasSuffix(job.InputKey, ".mp4") {
		return map[string]any{
			"video_path": inputAbs,
			"job_id":     job.ID,
		}, nil
	}

	data, err := os.ReadFile(inputAbs)
	if err != nil {
		return nil, fmt.Errorf("read input blob: %w", err)
	}
	return map[string]any{
		"image_bytes": data,
		"job_id":      job.ID,
	}, nil
}

func (w *Worker) fail(job *jobstore.Job, err error) {
	telemetry.CaptureError(err, map[string]string{"job_id": job.ID, "plugin_id": job.PluginID})

	if ferr := w.jobs.FinalizeFailure(job.ID, err.Error()); ferr != nil {
		w.log.Error("finalize_failure failed", "job_id", job.ID, "error", ferr)
	}
	metrics.JobsTotal.WithLabelValues(job.PluginID, "failed").Inc()
	w.bus.Publish(job.ID, progressbus.Event{Status: string(jobstore.StatusFailed), Error: err.Error()})
}
