package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Record is one execution to persist. CreatedAt zero means now.
type Record struct {
	RunID       string
	DocumentID  string
	Host        string
	Source      string // "cli", "gateway" or "watcher"
	Success     bool
	Message     string
	ErrorKind   string
	ActionCount int
	Duration    time.Duration
	Steps       json.RawMessage
	CreatedAt   time.Time
}

// Entry is a stored execution.
type Entry struct {
	ID          int64           `json:"id"`
	RunID       string          `json:"run_id"`
	DocumentID  string          `json:"document_id,omitempty"`
	Host        string          `json:"host"`
	Source      string          `json:"source"`
	Success     bool            `json:"success"`
	Message     string          `json:"message,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	ActionCount int             `json:"action_count"`
	DurationMs  int64           `json:"duration_ms"`
	Steps       json.RawMessage `json:"steps,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Config holds history store configuration
type Config struct {
	DBPath string
	Logger zerolog.Logger
}

// Store is the SQLite-backed execution log.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the history database.
func New(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With().Str("component", "history").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			host TEXT NOT NULL,
			source TEXT NOT NULL,
			success INTEGER NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			action_count INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			steps TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at);
		CREATE INDEX IF NOT EXISTS idx_executions_run ON executions(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record appends an execution and returns its row id.
func (s *Store) Record(ctx context.Context, rec Record) (int64, error) {
	if rec.RunID == "" {
		return 0, errors.New("run id is required")
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	success := 0
	if rec.Success {
		success = 1
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(run_id, document_id, host, source, success, message, error_kind, action_count, duration_ms, steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.DocumentID, rec.Host, rec.Source, success,
		rec.Message, rec.ErrorKind, rec.ActionCount, rec.Duration.Milliseconds(),
		string(rec.Steps), createdAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read execution id: %w", err)
	}

	s.logger.Debug().
		Int64("id", id).
		Str("runId", rec.RunID).
		Str("host", rec.Host).
		Bool("success", rec.Success).
		Msg("execution recorded")

	return id, nil
}

// Recent returns the newest entries, most recent first. A non-positive limit
// defaults to 20.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, document_id, host, source, success, message,
			error_kind, action_count, duration_ms, steps, created_at
		FROM executions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// ByRunID returns the entry for a run, or nil when unknown.
func (s *Store) ByRunID(ctx context.Context, runID string) (*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, document_id, host, source, success, message,
			error_kind, action_count, duration_ms, steps, created_at
		FROM executions
		WHERE run_id = ?
		ORDER BY id DESC
		LIMIT 1`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	entry, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// Prune deletes entries older than the retention window and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("retention must be positive")
	}

	cutoff := time.Now().Add(-retention).Unix()

	result, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned count: %w", err)
	}

	if pruned > 0 {
		s.logger.Info().
			Int64("pruned", pruned).
			Time("cutoff", time.Unix(cutoff, 0)).
			Msg("pruned old executions")
	}

	return pruned, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanEntry reads one row into an Entry.
func scanEntry(rows *sql.Rows) (Entry, error) {
	var entry Entry
	var success int
	var steps string
	var createdAt int64

	err := rows.Scan(
		&entry.ID, &entry.RunID, &entry.DocumentID, &entry.Host, &entry.Source,
		&success, &entry.Message, &entry.ErrorKind, &entry.ActionCount,
		&entry.DurationMs, &steps, &createdAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to scan execution: %w", err)
	}

	entry.Success = success != 0
	if steps != "" {
		entry.Steps = json.RawMessage(steps)
	}
	entry.CreatedAt = time.Unix(createdAt, 0)

	return entry, nil
}
