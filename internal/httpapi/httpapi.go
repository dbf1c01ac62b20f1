// Package httpapi is the thin HTTP/WebSocket surface over the job
// dispatch core: plugin discovery, image/video submission, job polling,
// and a progress-streaming WebSocket. It validates a submission's
// requested tools before any blob or job row is written, then hands off
// to the Blob Store and Job Store — the handlers here never touch a
// plugin instance directly, only through the registry via
// internal/toolvalidate and the worker's own dispatch path.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/visionhub/dispatch/internal/blobstore"
	"github.com/visionhub/dispatch/internal/health"
	"github.com/visionhub/dispatch/internal/jobstore"
	"github.com/visionhub/dispatch/internal/metrics"
	"github.com/visionhub/dispatch/internal/progressbus"
	"github.com/visionhub/dispatch/internal/ratelimit"
	"github.com/visionhub/dispatch/internal/registry"
	"github.com/visionhub/dispatch/internal/toolvalidate"
	"github.com/visionhub/dispatch/internal/validate"
)

// sniffWindow is how many leading bytes of an upload are buffered before
// any blob write — enough to run http.DetectContentType and the video
// magic-byte check without materializing the whole upload in memory.
const sniffWindow = 512

// Server wires the job dispatch core's components to HTTP handlers. It
// holds no mutable state of its own beyond what those components already
// own.
type Server struct {
	jobs      *jobstore.Store
	blobs     *blobstore.Store
	registry  *registry.Registry
	validator *toolvalidate.Validator
	bus       *progressbus.Bus
	heartbeat *health.Heartbeat
	limiter   *ratelimit.Limiter

	heartbeatStale time.Duration
	maxUploadBytes int64
	submitRate     int
	submitWindow   time.Duration

	upgrader websocket.Upgrader
	log      *slog.Logger
}

// Config bundles the constructor arguments that are plain values rather
// than shared component references.
type Config struct {
	HeartbeatStale time.Duration
	MaxUploadBytes int64
	SubmitRate     int
	SubmitWindow   time.Duration
}

// New constructs a Server. log may be nil, in which case slog.Default is
// used.
func New(
	jobs *jobstore.Store,
	blobs *blobstore.Store,
	reg *registry.Registry,
	bus *progressbus.Bus,
	heartbeat *health.Heartbeat,
	limiter *ratelimit.Limiter,
	cfg Config,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		jobs:           jobs,
		blobs:          blobs,
		registry:       reg,
		validator:      toolvalidate.New(reg),
		bus:            bus,
		heartbeat:      heartbeat,
		limiter:        limiter,
		heartbeatStale: cfg.HeartbeatStale,
		maxUploadBytes: cfg.MaxUploadBytes,
		submitRate:     cfg.SubmitRate,
		submitWindow:   cfg.SubmitWindow,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Router builds the chi mux: request-id/logging/recovery middleware,
// per-route metrics instrumentation, and the endpoints in spec §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.With(timed("/v1/plugins")).Get("/plugins", s.handleListPlugins)
		r.With(timed("/v1/plugins/{id}/manifest")).Get("/plugins/{id}/manifest", s.handleManifest)
		r.With(timed("/v1/image/submit"), middleware.Timeout(30*time.Second)).Post("/image/submit", s.handleSubmitImage)
		r.With(timed("/v1/video/submit"), middleware.Timeout(30*time.Second)).Post("/video/submit", s.handleSubmitVideo)
		r.With(timed("/v1/jobs/{job_id}")).Get("/jobs/{job_id}", s.handleGetJob)
		r.Get("/ws/jobs/{job_id}", s.handleJobWS)
		r.With(timed("/v1/worker/health")).Get("/worker/health", s.handleWorkerHealth)
	})

	return r
}

func timed(path string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return metrics.Middleware(path, next)
	}
}

// ── plugin discovery ────────────────────────────────────────────────────

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "id")
	m, err := s.registry.GetManifest(pluginID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown plugin %q", pluginID))
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse(m))
}

type toolEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InputKinds  []string `json:"input_kinds"`
}

type manifestBody struct {
	ID          string      `json:"id"`
	Version     string      `json:"version"`
	Description string      `json:"description"`
	Tools       []toolEntry `json:"tools"`
}

func manifestResponse(m registry.Manifest) manifestBody {
	tools := make([]toolEntry, 0, len(m.Tools))
	for name, spec := range m.Tools {
		tools = append(tools, toolEntry{Name: name, Description: spec.Description, InputKinds: spec.InputKinds})
	}
	return manifestBody{ID: m.ID, Version: m.Version, Description: m.Description, Tools: tools}
}

// ── submission ──────────────────────────────────────────────────────────

func (s *Server) handleSubmitImage(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "image")
}

func (s *Server) handleSubmitVideo(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "video")
}

// submit is shared by the image and video endpoints: it validates the
// requested plugin/tools against the live registry before anything is
// written, then streams the multipart body into the blob store and
// inserts the job row. No storage mutation happens ahead of validation.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, uploadKind string) {
	if s.limiter != nil {
		allowed, retryAfter := s.limiter.CheckSubmit(r.Context(), ratelimit.ClientIP(r), s.submitRate, s.submitWindow)
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many submissions, retry later")
			return
		}
	}

	pluginID := r.URL.Query().Get("plugin_id")
	tools := r.URL.Query()["tool"]

	if err := s.validator.Validate(pluginID, tools, uploadKind); err != nil {
		writeValidationError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	part, cleanup, err := s.openFilePart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	defer cleanup()

	head := make([]byte, sniffWindow)
	n, err := io.ReadFull(part, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read upload")
		return
	}
	if n == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "empty file")
		return
	}
	head = head[:n]

	jobID := uuid.New().String()

	var key string
	if uploadKind == "video" {
		if !bytes.Contains(head[:min(n, 64)], []byte("ftyp")) {
			writeError(w, http.StatusBadRequest, "bad_request", "not a valid MP4 upload")
			return
		}
		key = jobID + ".mp4"
	} else {
		key = jobID + imageExtension(head, part.FileName())
	}

	body := io.MultiReader(bytes.NewReader(head), part)
	putRes, err := s.blobs.Put(body, key)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "failed to store upload")
		return
	}

	job := &jobstore.Job{ID: jobID, PluginID: pluginID, InputKey: putRes.Key}
	if len(tools) == 1 {
		job.Type = jobstore.JobTypeSingle
		job.Tool = tools[0]
	} else {
		job.Type = jobstore.JobTypeMulti
		job.Tools = tools
	}

	if err := s.jobs.Insert(job); err != nil {
		s.blobs.Delete(putRes.Key)
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "failed to create job")
		return
	}

	metrics.QueueDepth.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

// openFilePart finds the "file" form part of a multipart request. cleanup
// drains (but does not itself close) the underlying request body.
func (s *Server) openFilePart(r *http.Request) (*multipart.Part, func(), error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, func() {}, errors.New("multipart/form-data required")
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, func() {}, errors.New("no file part present")
		}
		if err != nil {
			return nil, func() {}, errors.New("failed to parse multipart body")
		}
		if part.FormName() == "file" {
			return part, func() { part.Close() }, nil
		}
		part.Close()
	}
}

// imageExtension derives a file extension for an image upload: the
// sniffed content type first, then the uploaded filename's own
// extension, defaulting to ".bin" when neither yields one.
func imageExtension(head []byte, filename string) string {
	contentType := http.DetectContentType(head)
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	return ".bin"
}

// writeValidationError maps a toolvalidate error to its HTTP shape.
func writeValidationError(w http.ResponseWriter, err error) {
	var unknownTool *toolvalidate.UnknownToolError
	if errors.As(err, &unknownTool) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"detail": fmt.Sprintf("unknown tool %q; declared tools: %v", unknownTool.Tool, unknownTool.Declared),
		})
		return
	}

	switch {
	case errors.Is(err, toolvalidate.ErrUnknownPlugin):
		writeError(w, http.StatusNotFound, "unknown_plugin", err.Error())
	case errors.Is(err, toolvalidate.ErrNoToolsRequested):
		writeError(w, http.StatusBadRequest, "no_tools_requested", "at least one tool must be requested")
	case errors.Is(err, toolvalidate.ErrUnsupportedInput):
		writeError(w, http.StatusBadRequest, "unsupported_input_kind", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	}
}

// ── job polling ─────────────────────────────────────────────────────────

type jobResponse struct {
	JobID        string         `json:"job_id"`
	Status       string         `json:"status"`
	PluginID     string         `json:"plugin_id"`
	JobType      string         `json:"job_type"`
	Tool         string         `json:"tool,omitempty"`
	Tools        []string       `json:"tool_list,omitempty"`
	Results      map[string]any `json:"results,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := validate.IsUUID("job_id", jobID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown job %q", jobID))
		return
	}

	job, err := s.jobs.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown job %q", jobID))
		return
	}

	resp := jobResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		PluginID:     job.PluginID,
		JobType:      string(job.Type),
		Tool:         job.Tool,
		Tools:        job.Tools,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}

	if job.Status == jobstore.StatusCompleted {
		results, err := s.readOutput(job.OutputKey, job.Type)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "failed to read job output")
			return
		}
		resp.Results = results
	}

	writeJSON(w, http.StatusOK, resp)
}

// readOutput parses the output blob and returns the mapping that belongs in
// the response's results field. A single-tool job's blob is itself shaped
// {"results": <tool output>} (§4.6); that wrapper exists for the blob's own
// self-description and is unwrapped here so results inlines the tool's
// output directly. A multi-tool job's blob ({"plugin_id", "tools"}) has no
// such wrapper and is inlined as-is.
func (s *Server) readOutput(outputKey string, jobType jobstore.JobType) (map[string]any, error) {
	path, err := s.blobs.OpenPath(outputKey)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if jobType == jobstore.JobTypeSingle {
		if inner, ok := out["results"].(map[string]any); ok {
			return inner, nil
		}
	}
	return out, nil
}

// ── health ──────────────────────────────────────────────────────────────

func (s *Server) handleWorkerHealth(w http.ResponseWriter, r *http.Request) {
	status := s.heartbeat.Status(s.heartbeatStale)
	code := http.StatusOK
	if !status.Alive {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// ── JSON helpers ────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error body. The status is tallied in
// dispatch_http_errors_total by metrics.Middleware, which wraps every route
// that calls this helper.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}
