package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotLedger is returned by OpenExisting for a database without a runs table.
var ErrNotLedger = errors.New("not a run ledger")

// Pragmas applied to every writable connection. WAL lets history read
// while a batch is recording.
var writePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

var readPragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA query_only = ON",
}

// Store is the run ledger.
type Store struct {
	db *sql.DB
}

// Open opens the ledger at path for recording, creating the file and the
// schema if needed. Safe to call on an existing ledger.
func Open(path string) (*Store, error) {
	db, err := connect(path, writePragmas)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenExisting opens an existing ledger read-only. Nothing is created: a
// missing file is an error wrapping fs.ErrNotExist, and a database that
// was never a ledger yields ErrNotLedger.
func OpenExisting(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// mode=rw never creates the file; query_only keeps the session read-only.
	db, err := connect("file:"+path+"?mode=rw", readPragmas)
	if err != nil {
		return nil, err
	}

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'runs'").Scan(&name)
	if err != nil {
		db.Close()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotLedger)
		}
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func connect(dsn string, pragmas []string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Pragmas are per connection; keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
