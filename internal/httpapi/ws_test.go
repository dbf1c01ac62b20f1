package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/visionhub/dispatch/internal/jobstore"
)

func TestJobWSEmitsTerminalEventAndCloses(t *testing.T) {
	srv, jobs, blobs := newTestServer(t)

	jobID := uuid.NewString()
	job := &jobstore.Job{ID: jobID, PluginID: "ocr", Tool: "extract_text", Type: jobstore.JobTypeSingle, InputKey: jobID + ".png"}
	require.NoError(t, jobs.Insert(job))
	_, err := jobs.ClaimOldestPending()
	require.NoError(t, err)
	putRes, err := blobs.Put(strings.NewReader(`{"results":{}}`), "output/"+jobID+".json")
	require.NoError(t, err)
	require.NoError(t, jobs.FinalizeSuccess(jobID, putRes.Key))

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws/jobs/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "completed", msg.Status)
}

func TestJobWSUnknownJobRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws/jobs/does-not-exist"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 404, resp.StatusCode)
}
