// Package store persists exports and run history in SQLite so that values
// published by one invocation of the process are visible to the next.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/specialistvlad/cdflow/internal/exports"
)

// Store is a SQLite-backed exports.Registry and run log.
type Store struct {
	db *sqlx.DB
}

var _ exports.Registry = (*Store)(nil)

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// One connection keeps ":memory:" databases and write ordering coherent.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS exports (
name TEXT PRIMARY KEY,
value TEXT NOT NULL,
stack TEXT NOT NULL DEFAULT '',
updated_at INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS runs (
execution_id TEXT PRIMARY KEY,
pipeline TEXT NOT NULL,
status TEXT NOT NULL,
error TEXT NOT NULL DEFAULT '',
actions INTEGER NOT NULL DEFAULT 0,
started_at INTEGER NOT NULL,
finished_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type exportRow struct {
	Name      string `db:"name"`
	Value     string `db:"value"`
	Stack     string `db:"stack"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r exportRow) export() exports.Export {
	return exports.Export{Name: r.Name, Value: r.Value, Stack: r.Stack, UpdatedAt: time.Unix(0, r.UpdatedAt).UTC()}
}

// Lookup implements exports.Registry.
func (s *Store) Lookup(ctx context.Context, name string) (string, bool, error) {
	var row exportRow
	err := s.db.GetContext(ctx, &row, `SELECT name, value, stack, updated_at FROM exports WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

// Publish implements exports.Registry.
func (s *Store) Publish(ctx context.Context, e exports.Export) error {
	if e.Name == "" {
		return errors.New("export name is empty")
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO exports (name, value, stack, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value, stack = excluded.stack, updated_at = excluded.updated_at`,
		e.Name, e.Value, e.Stack, e.UpdatedAt.UnixNano())
	return err
}

// List implements exports.Registry.
func (s *Store) List(ctx context.Context) ([]exports.Export, error) {
	var rows []exportRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, value, stack, updated_at FROM exports ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]exports.Export, len(rows))
	for i, r := range rows {
		out[i] = r.export()
	}
	return out, nil
}
