package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/visionhub/dispatch/internal/jobstore"
	"github.com/visionhub/dispatch/internal/validate"
)

// wsMessage is the server-pushed event shape described in spec §6.
type wsMessage struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	Progress      *int   `json:"progress,omitempty"`
	Error         string `json:"error,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
	CompletedTool int    `json:"completed_tools,omitempty"`
	TotalTools    int    `json:"total_tools,omitempty"`
}

// handleJobWS subscribes the connection to the Progress Bus for job_id,
// immediately emits the current status snapshot, and forwards subsequent
// events until the job terminates or the client disconnects. A job
// already terminal at connect time gets its terminal event and the
// connection closes without a subscription ever being created.
func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := validate.IsUUID("job_id", jobID); err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	job, err := s.jobs.Get(jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	if isTerminal(job.Status) {
		_ = conn.WriteJSON(snapshotMessage(job))
		return
	}

	_ = conn.WriteJSON(snapshotMessage(job))

	handle := s.bus.Subscribe(jobID)
	defer s.bus.Unsubscribe(handle)

	// Re-read after subscribing: the job may have terminated between the
	// initial Get and Subscribe, in which case no further event is ever
	// published and this connection would otherwise hang until the client
	// gives up.
	if job, err = s.jobs.Get(jobID); err == nil && isTerminal(job.Status) {
		_ = conn.WriteJSON(snapshotMessage(job))
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-handle.Events():
			if !ok {
				return
			}
			msg := wsMessage{
				Type:          "status",
				Status:        event.Status,
				Progress:      event.Progress,
				Error:         event.Error,
				CompletedAt:   event.CompletedAt,
				CompletedTool: event.CompletedTool,
				TotalTools:    event.TotalTools,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if event.Status == string(jobstore.StatusCompleted) || event.Status == string(jobstore.StatusFailed) {
				return
			}
		}
	}
}

func isTerminal(status jobstore.Status) bool {
	return status == jobstore.StatusCompleted || status == jobstore.StatusFailed
}

func snapshotMessage(job *jobstore.Job) wsMessage {
	msg := wsMessage{Type: "status", Status: string(job.Status), Progress: job.Progress}
	if job.Status == jobstore.StatusFailed {
		msg.Error = job.ErrorMessage
	}
	if job.Status == jobstore.StatusCompleted {
		msg.CompletedAt = job.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return msg
}
