package globus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Transfer task states. SUCCEEDED and FAILED are terminal; an ACTIVE task
// is still moving bytes (or queued to).
const (
	TaskActive    = "ACTIVE"
	TaskSucceeded = "SUCCEEDED"
	TaskFailed    = "FAILED"
)

// Task mirrors the Transfer API task document for the fields this client
// observes. Task state is owned entirely by the Globus Transfer service.
type Task struct {
	TaskID            string `json:"task_id"`
	Status            string `json:"status"`
	Label             string `json:"label"`
	NiceStatus        string `json:"nice_status"`
	SourceEndpoint    string `json:"source_endpoint_id"`
	DestEndpoint      string `json:"destination_endpoint_id"`
	FilesTransferred  int64  `json:"files_transferred"`
	BytesTransferred  int64  `json:"bytes_transferred"`
	FatalErrorMessage string `json:"fatal_error,omitempty"`
}

// Terminal reports whether the task will not transition further.
func (t *Task) Terminal() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed
}

// Event is one entry from a task's event list. Time is kept as the raw API
// string ("2006-01-02 15:04:05+00:00") — event deduplication compares it
// verbatim, never parses it.
type Event struct {
	Code        string `json:"code"`
	IsError     bool   `json:"is_error"`
	Description string `json:"description"`
	Details     string `json:"details"`
	Time        string `json:"time"`
}

// TransferSpec names exactly one source→destination path pair.
type TransferSpec struct {
	SourceEndpoint string
	DestEndpoint   string
	SourcePath     string
	DestPath       string

	// Label is attached to the remote task for display in the Globus web
	// app. Defaults to a generated "globus-go <uuid>" label.
	Label string
}

// submissionIDResponse is the GET /submission_id document.
type submissionIDResponse struct {
	Value string `json:"value"`
}

// transferItem and transferRequest mirror the POST /transfer body.
type transferItem struct {
	DataType        string `json:"DATA_TYPE"` //nolint:tagliatelle // Transfer API envelope key
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
}

type transferRequest struct {
	DataType     string         `json:"DATA_TYPE"` //nolint:tagliatelle // Transfer API envelope key
	SubmissionID string         `json:"submission_id"`
	Source       string         `json:"source_endpoint"`
	Destination  string         `json:"destination_endpoint"`
	Label        string         `json:"label,omitempty"`
	Data         []transferItem `json:"DATA"` //nolint:tagliatelle // Transfer API envelope key
}

// submitResponse is the POST /transfer result.
type submitResponse struct {
	TaskID  string `json:"task_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// eventListResponse wraps the event list DATA array.
type eventListResponse struct {
	Data []Event `json:"DATA"` //nolint:tagliatelle // Transfer API envelope key
}

// SubmissionID fetches a fresh submission id. The Transfer API requires one
// per submit so that a retried POST cannot double-submit the same transfer.
func (c *Client) SubmissionID(ctx context.Context) (string, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/submission_id", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sid submissionIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&sid); err != nil {
		return "", fmt.Errorf("globus: decoding submission id response: %w", err)
	}

	if sid.Value == "" {
		return "", fmt.Errorf("globus: submission id response missing value")
	}

	return sid.Value, nil
}

// SubmitTransfer submits a one-item transfer and returns the remote task id.
func (c *Client) SubmitTransfer(ctx context.Context, spec TransferSpec) (string, error) {
	submissionID, err := c.SubmissionID(ctx)
	if err != nil {
		return "", err
	}

	label := spec.Label
	if label == "" {
		label = "globus-go " + uuid.NewString()
	}

	reqBody := transferRequest{
		DataType:     "transfer",
		SubmissionID: submissionID,
		Source:       spec.SourceEndpoint,
		Destination:  spec.DestEndpoint,
		Label:        label,
		Data: []transferItem{{
			DataType:        "transfer_item",
			SourcePath:      spec.SourcePath,
			DestinationPath: spec.DestPath,
		}},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("globus: encoding transfer request: %w", err)
	}

	c.logger.Info("submitting transfer",
		slog.String("source_endpoint", spec.SourceEndpoint),
		slog.String("destination_endpoint", spec.DestEndpoint),
		slog.String("source_path", spec.SourcePath),
		slog.String("destination_path", spec.DestPath),
		slog.String("label", label),
	)

	resp, err := c.Do(ctx, http.MethodPost, "/transfer", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", fmt.Errorf("globus: decoding submit response: %w", err)
	}

	if sub.TaskID == "" {
		return "", fmt.Errorf("globus: submit response missing task id (code %q: %s)", sub.Code, sub.Message)
	}

	c.logger.Info("transfer accepted",
		slog.String("task_id", sub.TaskID),
		slog.String("code", sub.Code),
	)

	return sub.TaskID, nil
}

// Task fetches the current task document by id.
func (c *Client) Task(ctx context.Context, taskID string) (*Task, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/task/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var task Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("globus: decoding task response: %w", err)
	}

	return &task, nil
}

// LatestErrorEvent fetches the most recent error-type event for a task.
// Returns (nil, nil) when the task has no error events yet.
func (c *Client) LatestErrorEvent(ctx context.Context, taskID string) (*Event, error) {
	path := fmt.Sprintf("/task/%s/event_list?filter=is_error:1&limit=1", url.PathEscape(taskID))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var events eventListResponse
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("globus: decoding event list response: %w", err)
	}

	if len(events.Data) == 0 {
		return nil, nil //nolint:nilnil // sentinel for "no error events"
	}

	event := events.Data[0]

	return &event, nil
}

// TaskWait polls the task every interval until it leaves ACTIVE or the
// timeout window elapses, whichever comes first. Returns true when the task
// reached a terminal state within the window, false when it is still ACTIVE
// after the window — callers loop on false to keep waiting indefinitely.
// Mirrors the task_wait semantics of the Globus SDKs.
func (c *Client) TaskWait(ctx context.Context, taskID string, timeout, interval time.Duration) (bool, error) {
	if interval <= 0 || timeout < interval {
		return false, fmt.Errorf("globus: task wait requires 0 < interval <= timeout (got interval=%s timeout=%s)", interval, timeout)
	}

	waited := time.Duration(0)

	for {
		task, err := c.Task(ctx, taskID)
		if err != nil {
			return false, err
		}

		if task.Terminal() {
			return true, nil
		}

		if waited+interval > timeout {
			return false, nil
		}

		if err := c.sleepFunc(ctx, interval); err != nil {
			return false, fmt.Errorf("globus: task wait canceled: %w", err)
		}

		waited += interval
	}
}
