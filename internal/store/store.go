// Package store persists action outcomes in a local sqlite journal. A file
// lock guards writes so that two processes sharing a cache directory cannot
// interleave inserts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/gustavo/defi-agent/internal/model"
)

const lockTimeout = 5 * time.Second

// Entry is one journaled outcome.
type Entry struct {
	Seq        int64                    `json:"seq"`
	Action     model.ActionName         `json:"action"`
	RecordedAt time.Time                `json:"recorded_at"`
	Outcome    model.TransactionOutcome `json:"outcome"`
}

type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS outcomes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			success INTEGER NOT NULL,
			error_kind TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_outcomes_recorded ON outcomes(recorded_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath)}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends one outcome. Satisfies the orchestrator's journal interface.
func (j *Journal) Record(ctx context.Context, action model.ActionName, outcome model.TransactionOutcome) error {
	locked, err := j.lock.TryLockContext(ctx, lockTimeout)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	success := 0
	if outcome.Success {
		success = 1
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO outcomes (action, success, error_kind, recorded_at, payload)
		VALUES (?, ?, ?, ?, ?)
	`, string(action), success, string(outcome.ErrorKind), time.Now().UTC().Unix(), payload)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		"SELECT seq, action, recorded_at, payload FROM outcomes ORDER BY seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry    Entry
			recorded int64
			payload  []byte
		)
		if err := rows.Scan(&entry.Seq, &entry.Action, &recorded, &payload); err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		if err := json.Unmarshal(payload, &entry.Outcome); err != nil {
			return nil, fmt.Errorf("decode outcome payload: %w", err)
		}
		entry.RecordedAt = time.Unix(recorded, 0).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome rows: %w", err)
	}
	return entries, nil
}
