// Package store is the data access layer for the notes database.
//
// It receives an already-opened *sql.DB (see dbopen) and exposes typed
// operations over content, tags, tasks, and digests. All timestamps are
// Unix milliseconds UTC.
package store

import "database/sql"

// Store wraps the notes database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
