// Package history keeps a local SQLite ledger of submitted transfers so the
// CLI can answer "what did I move lately" without round-tripping the Transfer
// API. The ledger is advisory: recording failures never fail a transfer.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/gridstage/globus-go/internal/globus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one row of the transfers table.
type Entry struct {
	TaskID       string
	SourceEP     string
	DestEP       string
	SourcePath   string
	DestPath     string
	Status       string
	Detail       string
	SubmittedAt  time.Time
	TerminatedAt time.Time // zero while the task is still pending
}

// Store wraps the ledger database. It implements staging.Recorder.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the ledger at dbPath and applies migrations.
// Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}

	// Single writer: concurrent TransferFile calls record through one
	// connection instead of fighting over SQLite write locks.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: setting WAL mode: %w", err)
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations applies all pending schema migrations to the database.
// Uses the goose v3 Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("history: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("history: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// TransferSubmitted records a newly accepted transfer as pending.
func (s *Store) TransferSubmitted(ctx context.Context, taskID string, spec globus.TransferSpec) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (task_id, source_ep, dest_ep, source_path, dest_path, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO NOTHING`,
		taskID, spec.SourceEndpoint, spec.DestEndpoint, spec.SourcePath, spec.DestPath,
		globus.TaskActive, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("history: recording submission %s: %w", taskID, err)
	}

	return nil
}

// TransferTerminal updates a pending row with its terminal status and detail.
func (s *Store) TransferTerminal(ctx context.Context, taskID, status, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, detail = ?, terminated_at = ?
		WHERE task_id = ?`,
		status, detail, time.Now().UTC().Unix(), taskID,
	)
	if err != nil {
		return fmt.Errorf("history: recording outcome for %s: %w", taskID, err)
	}

	return nil
}

// List returns the most recent entries, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT task_id, source_ep, dest_ep, source_path, dest_path, status,
		       COALESCE(detail, ''), submitted_at, COALESCE(terminated_at, 0)
		FROM transfers ORDER BY submitted_at DESC, rowid DESC`

	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: listing transfers: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e            Entry
			submittedAt  int64
			terminatedAt int64
		)

		if err := rows.Scan(&e.TaskID, &e.SourceEP, &e.DestEP, &e.SourcePath, &e.DestPath,
			&e.Status, &e.Detail, &submittedAt, &terminatedAt); err != nil {
			return nil, fmt.Errorf("history: scanning transfer row: %w", err)
		}

		e.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		if terminatedAt > 0 {
			e.TerminatedAt = time.Unix(terminatedAt, 0).UTC()
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating transfer rows: %w", err)
	}

	return entries, nil
}
