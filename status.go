package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridstage/globus-go/internal/globus"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status TASK_ID",
		Short: "Show the current status of a transfer task",
		Long: `Fetch a transfer task from the Globus Transfer service.

Requires cached credentials (run login first) — status never starts an
interactive login.`,
		Args: cobra.ExactArgs(1),
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	TaskID           string `json:"task_id"`
	Status           string `json:"status"`
	NiceStatus       string `json:"nice_status,omitempty"`
	Label            string `json:"label,omitempty"`
	SourceEndpoint   string `json:"source_endpoint"`
	DestEndpoint     string `json:"destination_endpoint"`
	FilesTransferred int64  `json:"files_transferred"`
	BytesTransferred int64  `json:"bytes_transferred"`
	LastError        string `json:"last_error,omitempty"`
}

func runStatus(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := context.Background()
	taskID := args[0]

	path, err := bundlePath()
	if err != nil {
		return err
	}

	src, err := globus.AuthorizerFromPath(ctx, clientID(), path, logger)
	if err != nil {
		return err
	}

	client := globus.NewClient(globus.DefaultBaseURL, defaultHTTPClient(), src, logger)

	task, err := client.Task(ctx, taskID)
	if err != nil {
		return err
	}

	out := statusOutput{
		TaskID:           task.TaskID,
		Status:           task.Status,
		NiceStatus:       task.NiceStatus,
		Label:            task.Label,
		SourceEndpoint:   task.SourceEndpoint,
		DestEndpoint:     task.DestEndpoint,
		FilesTransferred: task.FilesTransferred,
		BytesTransferred: task.BytesTransferred,
	}

	// Surface the latest error event for tasks that are struggling.
	if task.Status != globus.TaskSucceeded {
		if event, evErr := client.LatestErrorEvent(ctx, taskID); evErr == nil && event != nil {
			out.LastError = event.Description + " at " + event.Time
		}
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	rows := [][]string{
		{"Task", out.TaskID},
		{"Status", out.Status},
		{"Source", out.SourceEndpoint},
		{"Destination", out.DestEndpoint},
		{"Files", formatCount(out.FilesTransferred)},
		{"Bytes", formatSize(out.BytesTransferred)},
	}

	if out.NiceStatus != "" {
		rows = append(rows, []string{"Detail", out.NiceStatus})
	}

	if out.LastError != "" {
		rows = append(rows, []string{"Last error", out.LastError})
	}

	printPairs(os.Stdout, rows)

	return nil
}
