package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection behind the transaction, settings and
// user tables. All operations are serialized on one mutex.
type DB struct {
	mu     sync.Mutex
	conn   *sql.DB
	path   string
	clock  clockwork.Clock
	logger *slog.Logger

	// lastID is the most recent transaction id handed out
	lastID int64
}

// Open opens or creates the SQLite database at the specified path
func Open(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn:   conn,
		path:   path,
		clock:  clockwork.NewRealClock(),
		logger: logger.With("component", "db"),
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := conn.QueryRow("SELECT COALESCE(MAX(id), 0) FROM transactions").Scan(&db.lastID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read last transaction id: %w", err)
	}

	return db, nil
}

// WithClock replaces the clock used for ids and timestamps
func (db *DB) WithClock(clock clockwork.Clock) *DB {
	db.clock = clock
	return db
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn != nil {
		// Checkpoint the WAL to ensure all data is written to the main database file
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		err := db.conn.Close()
		db.conn = nil
		return err
	}
	return nil
}

// Flush forces a WAL checkpoint to write pending changes to the main database file
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn != nil {
		_, err := db.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
		return err
	}
	return nil
}

// initSchema creates the database tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
	-- Test-auth accounts
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		status TEXT NOT NULL
	);

	-- Calculator transactions, id is a millisecond timestamp
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY,
		amount REAL NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at DESC);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// errClosed is returned by operations on a closed store
var errClosed = fmt.Errorf("database is closed")

// lock takes the store mutex and reports whether the connection is usable
func (db *DB) lock() error {
	db.mu.Lock()
	if db.conn == nil {
		db.mu.Unlock()
		return errClosed
	}
	return nil
}
