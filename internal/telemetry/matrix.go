package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/davan/docplan/pkg/engine"
)

// MatrixRow is one aggregated (host, op, branch) cell of the capability
// matrix: what the fleet has actually observed hosts accept and refuse.
type MatrixRow struct {
	Host      string    `json:"host"`
	Op        string    `json:"op"`
	Branch    string    `json:"branch"`
	Attempts  int64     `json:"attempts"`
	Successes int64     `json:"successes"`
	Fallbacks int64     `json:"fallbacks"`
	LastError string    `json:"last_error,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// SuccessRate returns successes over attempts, 0 when unattempted.
func (r MatrixRow) SuccessRate() float64 {
	if r.Attempts == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Attempts)
}

// matrixStore persists the capability matrix in SQLite.
type matrixStore struct {
	db *sql.DB
}

func newMatrixStore(dbPath string) (*matrixStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS capability_matrix (
			host TEXT NOT NULL,
			op TEXT NOT NULL,
			branch TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			successes INTEGER NOT NULL DEFAULT 0,
			fallbacks INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			last_seen INTEGER NOT NULL,
			PRIMARY KEY (host, op, branch)
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &matrixStore{db: db}, nil
}

// apply folds a batch of events into the matrix in one transaction.
func (s *matrixStore) apply(ctx context.Context, batch []engine.CapabilityEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO capability_matrix
			(host, op, branch, attempts, successes, fallbacks, last_error, last_seen)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(host, op, branch) DO UPDATE SET
			attempts = attempts + 1,
			successes = successes + excluded.successes,
			fallbacks = fallbacks + excluded.fallbacks,
			last_error = CASE WHEN excluded.last_error != '' THEN excluded.last_error ELSE last_error END,
			last_seen = excluded.last_seen`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range batch {
		success := 0
		if ev.Success {
			success = 1
		}
		fallback := 0
		if ev.Fallback {
			fallback = 1
		}

		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}

		if _, err := stmt.ExecContext(ctx, ev.Host, ev.Op, ev.Branch, success, fallback, ev.Error, ts.Unix()); err != nil {
			return fmt.Errorf("failed to upsert matrix row: %w", err)
		}
	}

	return tx.Commit()
}

// query returns matrix rows ordered by host, op, branch. Empty host means
// all hosts.
func (s *matrixStore) query(ctx context.Context, host string) ([]MatrixRow, error) {
	q := `
		SELECT host, op, branch, attempts, successes, fallbacks, last_error, last_seen
		FROM capability_matrix`
	args := []interface{}{}
	if host != "" {
		q += " WHERE host = ?"
		args = append(args, host)
	}
	q += " ORDER BY host, op, branch"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matrix: %w", err)
	}
	defer rows.Close()

	var out []MatrixRow
	for rows.Next() {
		var row MatrixRow
		var lastSeen int64
		if err := rows.Scan(&row.Host, &row.Op, &row.Branch, &row.Attempts,
			&row.Successes, &row.Fallbacks, &row.LastError, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan matrix row: %w", err)
		}
		row.LastSeen = time.Unix(lastSeen, 0)
		out = append(out, row)
	}

	return out, rows.Err()
}

func (s *matrixStore) close() error {
	return s.db.Close()
}
