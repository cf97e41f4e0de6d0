// Package history stores a short append-only log of completed sync
// mutations (upload, download, rename, move, delete, trash, backup) so a
// user can answer "why did this file change" without re-deriving it from
// log files. It is observability, not sync state: a write failure here is
// logged and dropped, never propagated as a reconcile error.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"
)

const walJournalSizeLimit = 67108864 // 64 MiB

// Mutation is one row of the history log.
type Mutation struct {
	OccurredAtMillis int64
	Action           string
	File             string
	Message          string
}

// Store is a SQLite-backed append-only mutation log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	insertStmt *sql.Stmt
	recentStmt *sql.Stmt
}

// Open creates or opens the history database at dbPath, applying
// migrations and preparing statements. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()

		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()

		return nil, fmt.Errorf("history: prepare statements: %w", err)
	}

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("history: set pragma %q: %w", p, err)
		}
	}

	return nil
}

const (
	sqlInsertMutation = `INSERT INTO mutations (occurred_at, action, file, message)
		VALUES (?, ?, ?, ?)`

	sqlRecentMutations = `SELECT occurred_at, action, file, message
		FROM mutations ORDER BY occurred_at DESC, id DESC LIMIT ?`
)

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	s.insertStmt, err = s.db.PrepareContext(ctx, sqlInsertMutation)
	if err != nil {
		return fmt.Errorf("history: prepare insert: %w", err)
	}

	s.recentStmt, err = s.db.PrepareContext(ctx, sqlRecentMutations)
	if err != nil {
		return fmt.Errorf("history: prepare recent: %w", err)
	}

	return nil
}

// Record appends a mutation row. Best-effort: callers log and drop errors
// rather than failing a reconcile over a history write.
func (s *Store) Record(ctx context.Context, m Mutation) error {
	_, err := s.insertStmt.ExecContext(ctx, m.OccurredAtMillis, m.Action, m.File, m.Message)
	if err != nil {
		return fmt.Errorf("history: record mutation: %w", err)
	}

	return nil
}

// Recent returns the most recent n mutations, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Mutation, error) {
	rows, err := s.recentStmt.QueryContext(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []Mutation

	for rows.Next() {
		var m Mutation
		if err := rows.Scan(&m.OccurredAtMillis, &m.Action, &m.File, &m.Message); err != nil {
			return nil, fmt.Errorf("history: scan mutation row: %w", err)
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate mutation rows: %w", err)
	}

	return out, nil
}

// Close closes the prepared statements and the underlying database.
func (s *Store) Close() error {
	var errs []error

	if s.insertStmt != nil {
		errs = append(errs, s.insertStmt.Close())
	}

	if s.recentStmt != nil {
		errs = append(errs, s.recentStmt.Close())
	}

	errs = append(errs, s.db.Close())

	return errors.Join(errs...)
}
