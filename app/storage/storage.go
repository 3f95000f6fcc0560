package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mlevkov/feedcore/app/types"
)

// applicationID is the magic identifier written into the SQLite header on
// first creation and verified on every open, so that a foreign database file
// is rejected before any query runs.
const applicationID = 0x66656564 // "feed"

// Store owns the embedded database: schema lifecycle, CRUD and paginated
// reads for feeds, entries and tags. Connections are pooled per goroutine by
// database/sql; a Store handle itself is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the database at path, verifies the engine identity
// marker and brings the schema up to the current version.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{
			"busy_timeout(10000)",
			"journal_mode(WAL)",
			"foreign_keys(1)",
			"synchronous(NORMAL)",
		},
		// Transactions take the write lock up front: multi-statement writers
		// (entry batches, reindex pages) then wait on busy_timeout instead of
		// failing on a mid-transaction lock upgrade.
		"_txlock":      []string{"immediate"},
		"_time_format": []string{"sqlite"},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyApplicationID(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// verifyApplicationID writes the magic identifier into a fresh database and
// rejects files carrying a different one.
func verifyApplicationID(db *sql.DB) error {
	var appID int64
	if err := db.QueryRow("PRAGMA application_id").Scan(&appID); err != nil {
		return fmt.Errorf("failed to read application id: %w", err)
	}

	if appID == applicationID {
		return nil
	}
	if appID != 0 {
		return fmt.Errorf("not a feedcore database: application id %#x", appID)
	}

	// A zero id is only acceptable on a database that has no schema yet.
	var tables int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&tables)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if tables > 0 {
		return fmt.Errorf("not a feedcore database: unrecognized schema")
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA application_id = %d", applicationID)); err != nil {
		return fmt.Errorf("failed to write application id: %w", err)
	}
	return nil
}

// Close closes the store. Further operations fail with ErrStorageClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying handle to the search layer, which maintains its
// own tables inside the same database file.
func (s *Store) DB() (*sql.DB, error) {
	return s.conn()
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrStorageClosed
	}
	return s.db, nil
}
