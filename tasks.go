package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridstage/globus-go/internal/config"
	"github.com/gridstage/globus-go/internal/history"
)

var flagTasksLimit int

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List transfers recorded in the local history ledger",
		Long: `List recently submitted transfers from the local ledger.

The ledger is written as transfers are submitted and completed by this
machine; it is not a view of the remote task queue. Use status for the
live state of a task.`,
		RunE: runTasks,
	}

	cmd.Flags().IntVar(&flagTasksLimit, "limit", 20, "maximum entries to show (0 for all)")

	return cmd
}

// tasksEntry is the JSON schema for `tasks --json`.
type tasksEntry struct {
	TaskID      string `json:"task_id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	Detail      string `json:"detail,omitempty"`
	SubmittedAt string `json:"submitted_at"`
}

func runTasks(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	if resolvedCfg != nil && resolvedCfg.HistoryDisabled() {
		return fmt.Errorf("transfer history is disabled in the config file")
	}

	dbPath := config.DefaultHistoryPath()
	if resolvedCfg != nil && resolvedCfg.HistoryDB != "" {
		dbPath = resolvedCfg.HistoryDB
	}

	if dbPath == "" {
		return fmt.Errorf("cannot determine history ledger path")
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		statusf("No transfers recorded yet.\n")
		return nil
	}

	store, err := history.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx, flagTasksLimit)
	if err != nil {
		return err
	}

	out := make([]tasksEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, tasksEntry{
			TaskID:      e.TaskID,
			Source:      e.SourceEP + e.SourcePath,
			Destination: e.DestEP + e.DestPath,
			Status:      e.Status,
			Detail:      e.Detail,
			SubmittedAt: e.SubmittedAt.Format("2006-01-02 15:04:05"),
		})
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	if len(out) == 0 {
		statusf("No transfers recorded yet.\n")
		return nil
	}

	rows := make([][]string, 0, len(out))
	for _, e := range out {
		rows = append(rows, []string{e.TaskID, e.Status, e.Source, e.Destination, e.SubmittedAt})
	}

	printTable(os.Stdout, []string{"TASK", "STATUS", "SOURCE", "DESTINATION", "SUBMITTED"}, rows)

	return nil
}
