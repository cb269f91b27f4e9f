// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jllopis/soundscape/pkg/core"

	_ "modernc.org/sqlite"
)

const agentStateTable = "agent_state"

// SQLiteProvider persists agent stores in one SQLite table keyed by
// (address, key).
type SQLiteProvider struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	p, err := NewSQLiteProvider(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewSQLiteProvider wraps an open database and ensures the schema.
func NewSQLiteProvider(db *sql.DB) (*SQLiteProvider, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			address TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY(address, key)
		);`, agentStateTable)); err != nil {
		return nil, err
	}
	return &SQLiteProvider{db: db}, nil
}

// DB exposes the underlying database so other tables can share the file.
func (p *SQLiteProvider) DB() *sql.DB { return p.db }

// Close closes the database.
func (p *SQLiteProvider) Close() error { return p.db.Close() }

// For implements Provider.
func (p *SQLiteProvider) For(addr core.Address) Store {
	return &sqliteStore{db: p.db, addr: addr}
}

type sqliteStore struct {
	db   *sql.DB
	addr core.Address
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE address = ? AND key = ?", agentStateTable),
		s.addr.String(), key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (address, key, value, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(address, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, agentStateTable),
		s.addr.String(), key, value, time.Now().UTC().UnixMilli(),
	)
	return err
}
