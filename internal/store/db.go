package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the session-owned courier.db connection.
type DB struct {
	*sql.DB
}

// Open opens the message store with WAL journaling, a busy timeout and
// foreign keys on. The pool is capped at a single connection: sqlite
// serializes writers anyway, and one connection keeps the messenger's
// insert-then-mark sequences from tripping SQLITE_BUSY against each other.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
