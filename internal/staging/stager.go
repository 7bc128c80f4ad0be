// Package staging drives single-file transfers through the Globus Transfer
// service: submit one source→destination pair, poll the remote task until it
// reaches a terminal state, and surface mid-flight error events as warnings.
// The remote service owns all queuing, retrying, and byte movement — a
// Stager only observes.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridstage/globus-go/internal/globus"
)

// Default poll policy: wait in 60 second rounds, checking every 15 seconds,
// matching the Globus SDK task_wait convention.
const (
	DefaultWaitTimeout  = 60 * time.Second
	DefaultPollInterval = 15 * time.Second
)

// API is the slice of the Transfer client a Stager needs. Defined at the
// consumer so tests can substitute a fake; *globus.Client implements it.
type API interface {
	SubmitTransfer(ctx context.Context, spec globus.TransferSpec) (string, error)
	Task(ctx context.Context, taskID string) (*globus.Task, error)
	LatestErrorEvent(ctx context.Context, taskID string) (*globus.Event, error)
	TaskWait(ctx context.Context, taskID string, timeout, interval time.Duration) (bool, error)
}

// Recorder receives transfer lifecycle notifications for the local history
// ledger. Implementations must tolerate being called from concurrent
// TransferFile invocations. Nil disables recording.
type Recorder interface {
	TransferSubmitted(ctx context.Context, taskID string, spec globus.TransferSpec) error
	TransferTerminal(ctx context.Context, taskID, status, detail string) error
}

// PollPolicy controls how the polling loop waits on a remote task. There is
// deliberately no overall timeout or retry cap: the loop runs until the task
// leaves ACTIVE or ctx is canceled.
type PollPolicy struct {
	WaitTimeout time.Duration
	Interval    time.Duration
}

// DefaultPollPolicy returns the 60s/15s policy.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{WaitTimeout: DefaultWaitTimeout, Interval: DefaultPollInterval}
}

// Stager submits and monitors transfers. Construct one per process with
// NewStager and reuse it — the authorizer behind the API client refreshes
// itself and maintains the on-disk credential bundle.
//
// A Stager holds no per-transfer state, so concurrent TransferFile calls are
// safe: each call polls its own task id.
type Stager struct {
	api     API
	policy  PollPolicy
	history Recorder
	logger  *slog.Logger
}

// NewStager creates a Stager. history may be nil. A zero policy gets the
// default 60s/15s values.
func NewStager(api API, policy PollPolicy, history Recorder, logger *slog.Logger) *Stager {
	if policy.WaitTimeout <= 0 {
		policy.WaitTimeout = DefaultWaitTimeout
	}

	if policy.Interval <= 0 {
		policy.Interval = DefaultPollInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Stager{api: api, policy: policy, history: history, logger: logger}
}

// TransferFile submits a one-file transfer and blocks until the remote task
// terminates. Returns nil when the task SUCCEEDED; any other outcome is an
// error naming the task, endpoints, paths, and the remote detail text.
//
// The call blocks for the whole transfer, bounded only by the remote task
// reaching a terminal state or ctx being canceled.
func (s *Stager) TransferFile(ctx context.Context, srcEP, dstEP, srcPath, dstPath string) error {
	spec := globus.TransferSpec{
		SourceEndpoint: srcEP,
		DestEndpoint:   dstEP,
		SourcePath:     srcPath,
		DestPath:       dstPath,
	}

	taskID, err := s.api.SubmitTransfer(ctx, spec)
	if err != nil {
		return fmt.Errorf("globus transfer from %s%s to %s%s failed: %w",
			srcEP, srcPath, dstEP, dstPath, err)
	}

	s.recordSubmitted(ctx, taskID, spec)

	if err := s.pollUntilTerminal(ctx, taskID, spec); err != nil {
		return err
	}

	return s.finish(ctx, taskID, spec)
}

// pollUntilTerminal loops TaskWait rounds until the task leaves ACTIVE,
// logging each distinct error event exactly once (deduplicated by the event's
// timestamp string).
func (s *Stager) pollUntilTerminal(ctx context.Context, taskID string, spec globus.TransferSpec) error {
	var lastEventTime string

	for {
		done, err := s.api.TaskWait(ctx, taskID, s.policy.WaitTimeout, s.policy.Interval)
		if err != nil {
			return fmt.Errorf("globus transfer %s: waiting on task: %w", taskID, err)
		}

		if done {
			return nil
		}

		// Still ACTIVE after a full wait round. Surface the latest error
		// event, if it is one we have not logged yet.
		event, err := s.api.LatestErrorEvent(ctx, taskID)
		if err != nil {
			return fmt.Errorf("globus transfer %s: fetching error events: %w", taskID, err)
		}

		if event == nil || event.Time == lastEventTime {
			continue
		}

		lastEventTime = event.Time

		s.logger.Warn(fmt.Sprintf(
			"non-critical Globus Transfer error event for globus://%s%s: %q at %s. Retrying...",
			spec.SourceEndpoint, spec.SourcePath, event.Description, event.Time))
		s.logger.Debug("Globus Transfer error details",
			slog.String("task_id", taskID),
			slog.String("code", event.Code),
			slog.String("details", event.Details),
		)
	}
}

// finish re-fetches the terminal task and converts it to the call outcome.
func (s *Stager) finish(ctx context.Context, taskID string, spec globus.TransferSpec) error {
	task, err := s.api.Task(ctx, taskID)
	if err != nil {
		return fmt.Errorf("globus transfer %s: fetching final status: %w", taskID, err)
	}

	if task.Status == globus.TaskSucceeded {
		s.logger.Debug("globus transfer succeeded",
			slog.String("task_id", taskID),
			slog.String("source", spec.SourceEndpoint+spec.SourcePath),
			slog.String("destination", spec.DestEndpoint+spec.DestPath),
		)

		s.recordTerminal(ctx, taskID, task.Status, "")

		return nil
	}

	detail := s.failureDetail(ctx, taskID, task)
	s.recordTerminal(ctx, taskID, task.Status, detail)

	return fmt.Errorf("globus transfer %s, from %s%s to %s%s failed due to error: %q",
		taskID, spec.SourceEndpoint, spec.SourcePath, spec.DestEndpoint, spec.DestPath, detail)
}

// failureDetail extracts the best available description of why a task ended
// non-SUCCEEDED: the latest error event's details, falling back to the task
// document itself.
func (s *Stager) failureDetail(ctx context.Context, taskID string, task *globus.Task) string {
	event, err := s.api.LatestErrorEvent(ctx, taskID)
	if err == nil && event != nil {
		return event.Details
	}

	if task.FatalErrorMessage != "" {
		return task.FatalErrorMessage
	}

	return "status " + task.Status
}

func (s *Stager) recordSubmitted(ctx context.Context, taskID string, spec globus.TransferSpec) {
	if s.history == nil {
		return
	}

	if err := s.history.TransferSubmitted(ctx, taskID, spec); err != nil {
		s.logger.Warn("failed to record transfer in history",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Stager) recordTerminal(ctx context.Context, taskID, status, detail string) {
	if s.history == nil {
		return
	}

	if err := s.history.TransferTerminal(ctx, taskID, status, detail); err != nil {
		s.logger.Warn("failed to record transfer outcome in history",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}
