// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jllopis/soundscape/pkg/core"

	_ "modernc.org/sqlite"
)

// JournalFilter limits journal queries. Results are newest first.
type JournalFilter struct {
	Outcome core.Outcome
	Limit   int
}

// MemoryJournal keeps cycle records in memory.
type MemoryJournal struct {
	mu      sync.Mutex
	records []CycleRecord
}

// NewMemoryJournal returns an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record appends a cycle record.
func (j *MemoryJournal) Record(_ context.Context, rec CycleRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

// List returns records matching the filter.
func (j *MemoryJournal) List(_ context.Context, filter JournalFilter) ([]CycleRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []CycleRecord
	for i := len(j.records) - 1; i >= 0; i-- {
		rec := j.records[i]
		if filter.Outcome != "" && rec.Outcome != filter.Outcome {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// SQLiteJournal persists cycle records in SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal creates a SQLite-backed journal and ensures schema.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureJournalSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

// Record stores a single cycle record.
func (j *SQLiteJournal) Record(ctx context.Context, rec CycleRecord) error {
	missing, err := json.Marshal(rec.Missing)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO soundscape_cycles (
			cycle_id, outcome, missing_json, prompt, content_ref, started_at, finished_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.CycleID,
		string(rec.Outcome),
		string(missing),
		rec.Prompt,
		rec.ContentRef,
		rec.StartedAt.UTC().UnixMilli(),
		rec.FinishedAt.UTC().UnixMilli(),
		rec.Duration().Milliseconds(),
	)
	return err
}

// List returns cycle records matching the filter.
func (j *SQLiteJournal) List(ctx context.Context, filter JournalFilter) ([]CycleRecord, error) {
	query := `
		SELECT cycle_id, outcome, missing_json, prompt, content_ref, started_at, finished_at
		FROM soundscape_cycles
	`
	var args []any
	if filter.Outcome != "" {
		query += " WHERE outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	query += " ORDER BY finished_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var (
			rec         CycleRecord
			outcome     string
			missingJSON string
			started     int64
			finished    int64
		)
		if err := rows.Scan(
			&rec.CycleID,
			&outcome,
			&missingJSON,
			&rec.Prompt,
			&rec.ContentRef,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		rec.Outcome = core.Outcome(outcome)
		if missingJSON != "" && missingJSON != "null" {
			if err := json.Unmarshal([]byte(missingJSON), &rec.Missing); err != nil {
				return nil, err
			}
		}
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.FinishedAt = time.UnixMilli(finished).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func ensureJournalSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS soundscape_cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			missing_json TEXT,
			prompt TEXT NOT NULL,
			content_ref TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_soundscape_cycles_outcome ON soundscape_cycles(outcome);
		CREATE INDEX IF NOT EXISTS idx_soundscape_cycles_finished ON soundscape_cycles(finished_at);
	`)
	return err
}
