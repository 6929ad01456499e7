// Package store is the content-addressed index: feed membership,
// cursors, deny-list, verification-method cache, and timeline-consumer
// bookkeeping, all backed by an embedded SQLite database.
package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps the index database. Every write method opens and commits
// its own transaction; reads run directly against the pool.
type Store struct {
	db *sql.DB
}

// Open connects to dsn (a sqlite DSN, e.g. "file:feedgen.db") and runs
// any pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, matches its single-writer model

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
