// Command dispatchd is the job-dispatch daemon: it loads configuration,
// opens the blob and job stores, loads the plugin registry, starts the
// worker loop alongside the HTTP ingress in this same process — the
// single-process invariant spec §5 requires — and shuts both down
// cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/visionhub/dispatch/internal/blobstore"
	"github.com/visionhub/dispatch/internal/config"
	"github.com/visionhub/dispatch/internal/health"
	"github.com/visionhub/dispatch/internal/httpapi"
	"github.com/visionhub/dispatch/internal/jobstore"
	"github.com/visionhub/dispatch/internal/logger"
	"github.com/visionhub/dispatch/internal/metrics"
	"github.com/visionhub/dispatch/internal/plugins"
	"github.com/visionhub/dispatch/internal/progressbus"
	"github.com/visionhub/dispatch/internal/ratelimit"
	"github.com/visionhub/dispatch/internal/registry"
	"github.com/visionhub/dispatch/internal/worker"
	"github.com/visionhub/dispatch/pkg/telemetry"
)

// version is set via -ldflags at build time; "dev" otherwise.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "[dispatchd] %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	if err := telemetry.InitSentry(cfg.SentryDSN, "dispatchd", version); err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	defer telemetry.Flush()

	blobs, err := blobstore.Open(cfg.DataRoot)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	jobs, err := jobstore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobs.Close()

	if pending, err := jobs.CountPending(); err == nil {
		metrics.QueueDepth.Set(float64(pending))
	}

	reg := registry.New(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.LoadAll(ctx, plugins.Builtin())
	defer reg.UnloadAll(context.Background())

	bus := progressbus.New()
	heartbeat := health.New()

	limiter := buildLimiter(cfg)

	w := worker.New(jobs, blobs, reg, bus, heartbeat, cfg.PollInterval, cfg.ToolTimeout, log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(ctx)
	}()

	srv := httpapi.New(jobs, blobs, reg, bus, heartbeat, limiter, httpapi.Config{
		HeartbeatStale: cfg.HeartbeatStale,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SubmitRate:     cfg.SubmitRate,
		SubmitWindow:   cfg.SubmitWindow,
	}, log)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("dispatchd listening", "addr", httpSrv.Addr, "data_root", cfg.DataRoot, "db_path", cfg.DBPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("http server error", "error", err)
	}

	cancel() // stop the worker between iterations; in-flight execute() finishes first

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}

	// Block the process's own exit on the worker loop actually returning,
	// not just on ctx being cancelled — an in-flight execute(job) must run
	// to completion or failure before this process is allowed to die.
	select {
	case <-workerDone:
	case <-time.After(workerDrainTimeout):
		log.Error("worker did not stop within drain timeout, exiting anyway", "timeout", workerDrainTimeout)
	}

	log.Info("dispatchd stopped")
	return nil
}

// workerDrainTimeout bounds how long shutdown waits for an in-flight tool
// invocation to finish before giving up. Tool invocations have no built-in
// deadline unless ToolTimeout is configured, so this is a last-resort cap.
const workerDrainTimeout = 30 * time.Second

// buildLimiter returns a Redis-backed rate limiter, or nil (no-op,
// always-allow) when REDIS_URL is unset — the service must run with zero
// external dependencies beyond the filesystem and the embedded job
// database.
func buildLimiter(cfg *config.Config) *ratelimit.Limiter {
	if cfg.RedisURL == "" {
		return ratelimit.New(nil)
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Default().Warn("invalid REDIS_URL, rate limiting disabled", "error", err)
		return ratelimit.New(nil)
	}
	client := goredis.NewClient(opts)
	return ratelimit.New(ratelimit.NewRedisStore(client))
}
