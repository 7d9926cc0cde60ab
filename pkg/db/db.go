// Package db is the SQLite store behind the trade log, the open-position
// book, risk snapshots and KPI records.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Memory opens a private in-memory database.
const Memory = ":memory:"

// busyTimeout covers a batched trade-log flush holding the write lock while
// the book or risk snapshot writes.
const busyTimeout = 5 * time.Second

var ErrEmptyPath = errors.New("database path is empty")

// Database holds the single SQLite connection.
type Database struct {
	DB   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path, applies connection
// pragmas and runs the schema migrations. Memory gives a fresh database that
// lives as long as the handle.
func Open(ctx context.Context, path string) (*Database, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	inMemory := path == Memory || strings.Contains(path, "mode=memory")
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps an in-memory database alive.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	d := &Database{DB: conn, path: path}
	if err := d.configure(ctx, inMemory); err != nil {
		conn.Close()
		return nil, err
	}
	if err := ApplyMigrations(d); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) configure(ctx context.Context, inMemory bool) error {
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite %s: %w", d.path, err)
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	if !inMemory {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := d.DB.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Path is the location the database was opened from.
func (d *Database) Path() string { return d.path }

// Close releases the connection. It is safe on a nil Database.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
