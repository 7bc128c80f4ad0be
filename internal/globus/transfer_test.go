package globus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTransferServer builds a mock Transfer API serving submission ids and a
// canned submit response, recording the submitted transfer body.
func newTransferServer(t *testing.T, submitted *transferRequest) *Client {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /submission_id", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value": "sub-123"}`))
	})

	mux.HandleFunc("POST /transfer", func(w http.ResponseWriter, r *http.Request) {
		// assert, not require: handlers run on the server goroutine.
		assert.NoError(t, json.NewDecoder(r.Body).Decode(submitted))
		_, _ = w.Write([]byte(`{"task_id": "task-abc", "code": "Accepted", "message": "The transfer has been accepted"}`))
	})

	return newTestClient(t, mux)
}

func TestSubmitTransfer_BuildsSingleItemRequest(t *testing.T) {
	var submitted transferRequest

	c := newTransferServer(t, &submitted)

	taskID, err := c.SubmitTransfer(context.Background(), TransferSpec{
		SourceEndpoint: "src-ep",
		DestEndpoint:   "dst-ep",
		SourcePath:     "/data/in.bin",
		DestPath:       "/data/out.bin",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-abc", taskID)

	assert.Equal(t, "transfer", submitted.DataType)
	assert.Equal(t, "sub-123", submitted.SubmissionID)
	assert.Equal(t, "src-ep", submitted.Source)
	assert.Equal(t, "dst-ep", submitted.Destination)
	assert.NotEmpty(t, submitted.Label)
	require.Len(t, submitted.Data, 1)
	assert.Equal(t, "transfer_item", submitted.Data[0].DataType)
	assert.Equal(t, "/data/in.bin", submitted.Data[0].SourcePath)
	assert.Equal(t, "/data/out.bin", submitted.Data[0].DestinationPath)
}

func TestSubmitTransfer_CustomLabel(t *testing.T) {
	var submitted transferRequest

	c := newTransferServer(t, &submitted)

	_, err := c.SubmitTransfer(context.Background(), TransferSpec{
		SourceEndpoint: "src-ep",
		DestEndpoint:   "dst-ep",
		SourcePath:     "/a",
		DestPath:       "/b",
		Label:          "nightly staging",
	})
	require.NoError(t, err)
	assert.Equal(t, "nightly staging", submitted.Label)
}

func TestSubmissionID_MissingValue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /submission_id", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	c := newTestClient(t, mux)

	_, err := c.SubmissionID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing value")
}

func TestTask_Decode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /task/task-abc", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"task_id": "task-abc",
			"status": "ACTIVE",
			"nice_status": "QUEUED",
			"source_endpoint_id": "src-ep",
			"destination_endpoint_id": "dst-ep",
			"files_transferred": 0,
			"bytes_transferred": 0
		}`))
	})

	c := newTestClient(t, mux)

	task, err := c.Task(context.Background(), "task-abc")
	require.NoError(t, err)
	assert.Equal(t, "task-abc", task.TaskID)
	assert.Equal(t, TaskActive, task.Status)
	assert.False(t, task.Terminal())
}

func TestLatestErrorEvent_FiltersErrorsOnly(t *testing.T) {
	var gotQuery string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /task/task-abc/event_list", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"DATA": [{
			"code": "CONNECTION_RESET",
			"is_error": true,
			"description": "Connection reset by peer",
			"details": "an end-of-file was reached",
			"time": "2026-08-30 11:22:33+00:00"
		}]}`))
	})

	c := newTestClient(t, mux)

	event, err := c.LatestErrorEvent(context.Background(), "task-abc")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "CONNECTION_RESET", event.Code)
	assert.Equal(t, "2026-08-30 11:22:33+00:00", event.Time)
	assert.Contains(t, gotQuery, "filter=is_error:1")
	assert.Contains(t, gotQuery, "limit=1")
}

func TestLatestErrorEvent_NoEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /task/task-abc/event_list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"DATA": []}`))
	})

	c := newTestClient(t, mux)

	event, err := c.LatestErrorEvent(context.Background(), "task-abc")
	require.NoError(t, err)
	assert.Nil(t, event)
}

// taskSequenceHandler serves a fixed sequence of task statuses, holding the
// final status for any further polls.
func taskSequenceHandler(statuses ...string) http.HandlerFunc {
	var calls atomic.Int32

	return func(w http.ResponseWriter, _ *http.Request) {
		i := int(calls.Add(1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}

		fmt.Fprintf(w, `{"task_id": "task-abc", "status": %q}`, statuses[i])
	}
}

func TestTaskWait_TerminalWithinWindow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /task/task-abc", taskSequenceHandler("ACTIVE", "ACTIVE", "SUCCEEDED"))

	c := newTestClient(t, mux)

	done, err := c.TaskWait(context.Background(), "task-abc", 60*time.Second, 15*time.Second)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestTaskWait_StillActiveAfterWindow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /task/task-abc", taskSequenceHandler("ACTIVE"))

	c := newTestClient(t, mux)

	done, err := c.TaskWait(context.Background(), "task-abc", 60*time.Second, 15*time.Second)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestTaskWait_InvalidPolicy(t *testing.T) {
	c := NewClient("http://unused", nil, staticToken("t"), testLogger())

	_, err := c.TaskWait(context.Background(), "task-abc", time.Second, 15*time.Second)
	assert.Error(t, err)
}

func TestTaskWait_CancellationDuringSleep(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /task/task-abc", taskSequenceHandler("ACTIVE"))

	srv := newTestClient(t, mux)
	srv.sleepFunc = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	_, err := srv.TaskWait(context.Background(), "task-abc", 60*time.Second, 15*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
