// Package sqlite opens the daemon's sqlite state file, mirroring the
// teacher's pkg/sqlite: a single Open entrypoint with functional options,
// WAL mode for the read-write handle so a concurrent read-only handle
// never blocks on it.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type Op struct {
	readOnly bool
}

type OpOption func(*Op)

// WithReadOnly opens the database in read-only mode, for collaborators
// (e.g. the CLI's status command) that must never write.
func WithReadOnly(ro bool) OpOption {
	return func(op *Op) { op.readOnly = ro }
}

// Open opens (creating if absent) the sqlite file at path.
func Open(path string, opts ...OpOption) (*sql.DB, error) {
	op := &Op{}
	for _, o := range opts {
		o(op)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	if op.readOnly {
		dsn += "&mode=ro"
	} else {
		dsn += "&mode=rwc"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if op.readOnly {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
