// Package store persists batch outcomes in a local SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kazeguide/pkg/model"
)

// DB wraps the SQLite handle for generation history.
type DB struct {
	db *sql.DB
}

// HistoryEntry is one persisted per-location outcome.
type HistoryEntry struct {
	ID           int64
	RunID        string
	Location     string
	TargetDate   string
	Success      bool
	Comment      string
	Advice       string
	ErrorKind    string
	ErrorMessage string
	Metadata     string // JSON
	CreatedAt    time.Time
}

// Open opens (creating if necessary) the database at path and migrates the
// schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc/sqlite serializes writers; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("Store: database ready", "path", path)
	return &DB{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS generation_history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id        TEXT NOT NULL,
			location      TEXT NOT NULL,
			target_date   TEXT NOT NULL,
			success       INTEGER NOT NULL,
			comment       TEXT,
			advice        TEXT,
			error_kind    TEXT,
			error_message TEXT,
			metadata      TEXT,
			created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_history_run ON generation_history(run_id);
		CREATE INDEX IF NOT EXISTS idx_history_location ON generation_history(location, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// AppendBatch stores every result of a batch run in one transaction.
func (d *DB) AppendBatch(res *model.BatchResult, targetDate time.Time) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO generation_history
			(run_id, location, target_date, success, comment, advice, error_kind, error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	day := targetDate.In(model.JST).Format("2006-01-02")
	for _, lr := range res.Results {
		meta := ""
		if lr.Metadata != nil {
			if b, err := json.Marshal(lr.Metadata); err == nil {
				meta = string(b)
			}
		}
		if _, err := stmt.Exec(res.RunID, lr.Location, day, lr.Success,
			lr.Comment, lr.AdviceComment, lr.ErrorKind, lr.ErrorMessage, meta); err != nil {
			return fmt.Errorf("failed to insert history row: %w", err)
		}
	}
	return tx.Commit()
}

// RecentHistory returns the newest entries, most recent first.
func (d *DB) RecentHistory(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(`
		SELECT id, run_id, location, target_date, success, comment, advice,
		       error_kind, error_message, metadata, created_at
		FROM generation_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Location, &e.TargetDate, &e.Success,
			&e.Comment, &e.Advice, &e.ErrorKind, &e.ErrorMessage, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastCommentFor returns the most recent successful comment for a location,
// or "" when there is none.
func (d *DB) LastCommentFor(locationName string) (string, error) {
	var comment string
	err := d.db.QueryRow(`
		SELECT comment FROM generation_history
		WHERE location = ? AND success = 1
		ORDER BY id DESC LIMIT 1`, locationName).Scan(&comment)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query last comment: %w", err)
	}
	return comment, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }
