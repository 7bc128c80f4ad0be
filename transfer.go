package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gridstage/globus-go/internal/config"
	"github.com/gridstage/globus-go/internal/globus"
	"github.com/gridstage/globus-go/internal/history"
	"github.com/gridstage/globus-go/internal/staging"
)

var flagBatchFile string

func newTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer SRC_ENDPOINT:SRC_PATH DST_ENDPOINT:DST_PATH",
		Short: "Transfer one file between Globus endpoints",
		Long: `Submit a one-file transfer and wait for it to finish.

Each argument is an endpoint id and an absolute path joined by a colon, e.g.

  globus-go transfer ddb59aef-6d04-11e5-ba46-22000b92c6ec:/share/godata/file1.txt \
                     ddb59af0-6d04-11e5-ba46-22000b92c6ec:/~/file1.txt

The command blocks until the remote task reaches a terminal state. With
--batch, reads one transfer per line from a file (source and destination
separated by whitespace, # comments allowed) and runs them concurrently,
each polling its own task.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: runTransfer,
	}

	cmd.Flags().StringVar(&flagBatchFile, "batch", "", "file listing transfers, one per line")

	return cmd
}

// endpointPath is one side of a transfer: an endpoint id plus a path on it.
type endpointPath struct {
	Endpoint string
	Path     string
}

// parseEndpointPath splits "ENDPOINT:PATH" on the first colon.
func parseEndpointPath(arg string) (endpointPath, error) {
	idx := strings.Index(arg, ":")
	if idx <= 0 || idx == len(arg)-1 {
		return endpointPath{}, fmt.Errorf("invalid endpoint spec %q (want ENDPOINT:PATH)", arg)
	}

	return endpointPath{Endpoint: arg[:idx], Path: arg[idx+1:]}, nil
}

// transferPair is one source→destination move.
type transferPair struct {
	src, dst endpointPath
}

func runTransfer(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := context.Background()

	pairs, err := collectPairs(args)
	if err != nil {
		return err
	}

	stager, cleanup, err := buildStager(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(pairs) == 1 {
		p := pairs[0]
		if err := stager.TransferFile(ctx, p.src.Endpoint, p.dst.Endpoint, p.src.Path, p.dst.Path); err != nil {
			return err
		}

		statusf("Transfer complete: %s%s -> %s%s\n", p.src.Endpoint, p.src.Path, p.dst.Endpoint, p.dst.Path)

		return nil
	}

	// Batch mode: each transfer is its own TransferFile call polling its own
	// task id, so running them concurrently is safe.
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range pairs {
		g.Go(func() error {
			return stager.TransferFile(gctx, p.src.Endpoint, p.dst.Endpoint, p.src.Path, p.dst.Path)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	statusf("All %d transfers complete.\n", len(pairs))

	return nil
}

// collectPairs resolves the positional or --batch transfer list.
func collectPairs(args []string) ([]transferPair, error) {
	if flagBatchFile != "" {
		if len(args) != 0 {
			return nil, fmt.Errorf("--batch cannot be combined with positional arguments")
		}

		return readBatchFile(flagBatchFile)
	}

	if len(args) != 2 {
		return nil, fmt.Errorf("expected SRC_ENDPOINT:SRC_PATH and DST_ENDPOINT:DST_PATH arguments")
	}

	src, err := parseEndpointPath(args[0])
	if err != nil {
		return nil, err
	}

	dst, err := parseEndpointPath(args[1])
	if err != nil {
		return nil, err
	}

	return []transferPair{{src: src, dst: dst}}, nil
}

// readBatchFile parses a batch file: one transfer per line, source and
// destination specs separated by whitespace. Blank lines and # comments
// are skipped.
func readBatchFile(path string) ([]transferPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening batch file: %w", err)
	}
	defer f.Close()

	var pairs []transferPair

	scanner := bufio.NewScanner(f)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("batch file %s:%d: want two endpoint specs, got %d fields", path, lineNo, len(fields))
		}

		src, err := parseEndpointPath(fields[0])
		if err != nil {
			return nil, fmt.Errorf("batch file %s:%d: %w", path, lineNo, err)
		}

		dst, err := parseEndpointPath(fields[1])
		if err != nil {
			return nil, fmt.Errorf("batch file %s:%d: %w", path, lineNo, err)
		}

		pairs = append(pairs, transferPair{src: src, dst: dst})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("batch file %s lists no transfers", path)
	}

	return pairs, nil
}

// buildStager connects the authorizer (loading the cached bundle or running
// interactive login), opens the history ledger, and assembles the Stager.
// cleanup closes the ledger.
func buildStager(ctx context.Context, logger *slog.Logger) (*staging.Stager, func(), error) {
	path, err := bundlePath()
	if err != nil {
		return nil, nil, err
	}

	src, err := globus.Connect(ctx, globus.LoginOptions{
		ClientID:   clientID(),
		BundlePath: path,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	client := globus.NewClient(globus.DefaultBaseURL, defaultHTTPClient(), src, logger)

	policy := staging.DefaultPollPolicy()
	if resolvedCfg != nil {
		policy = staging.PollPolicy{
			WaitTimeout: resolvedCfg.WaitTimeout(),
			Interval:    resolvedCfg.PollInterval(),
		}
	}

	ledger, cleanup := openHistory(logger)

	return staging.NewStager(client, policy, ledger, logger), cleanup, nil
}

// openHistory opens the transfer ledger unless disabled. A ledger that fails
// to open is logged and skipped — history is advisory, never load-bearing.
// Returns a nil Recorder (as staging treats nil specially) plus a cleanup.
func openHistory(logger *slog.Logger) (staging.Recorder, func()) {
	noop := func() {}

	if resolvedCfg != nil && resolvedCfg.HistoryDisabled() {
		return nil, noop
	}

	dbPath := config.DefaultHistoryPath()
	if resolvedCfg != nil && resolvedCfg.HistoryDB != "" {
		dbPath = resolvedCfg.HistoryDB
	}

	if dbPath == "" {
		return nil, noop
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		logger.Warn("cannot create history directory, continuing without ledger",
			slog.String("path", dbPath),
			slog.String("error", err.Error()),
		)

		return nil, noop
	}

	store, err := history.Open(dbPath, logger)
	if err != nil {
		logger.Warn("cannot open history ledger, continuing without it",
			slog.String("path", dbPath),
			slog.String("error", err.Error()),
		)

		return nil, noop
	}

	return store, func() { _ = store.Close() }
}
