package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteLedgerStore implements LedgerStore using SQLite
type SQLiteLedgerStore struct {
	sqlLedger
	dbPath string
}

// NewSQLiteLedgerStore creates a new SQLite ledger store
func NewSQLiteLedgerStore(dbPath string) *SQLiteLedgerStore {
	return &SQLiteLedgerStore{dbPath: dbPath}
}

// Initialize sets up the database connection and creates necessary tables
func (s *SQLiteLedgerStore) Initialize(ctx context.Context) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_foreign_keys=1")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	s.db = db

	// A single writer process; one connection keeps transactions serialized
	s.db.SetMaxOpenConns(1)
	s.db.SetConnMaxLifetime(time.Hour)

	if err := s.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return s.ensureMetadata(ctx)
}

// createTables creates the necessary database tables
func (s *SQLiteLedgerStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS replied_tweets (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		tweet_id TEXT NOT NULL UNIQUE,
		reply_id TEXT NULL,
		replied_at INTEGER NOT NULL,
		metadata TEXT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_replied_tweets_replied_at ON replied_tweets(replied_at);

	CREATE TABLE IF NOT EXISTS ledger_metadata (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		document TEXT NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Load reads the complete ledger document
func (s *SQLiteLedgerStore) Load(ctx context.Context) (*LedgerDocument, error) {
	return s.load(ctx)
}

// Save replaces the stored document
func (s *SQLiteLedgerStore) Save(ctx context.Context, doc *LedgerDocument) error {
	return s.save(ctx, doc)
}

// HealthCheck verifies that the database connection is working
func (s *SQLiteLedgerStore) HealthCheck(ctx context.Context) error {
	return s.healthCheck(ctx)
}

// Close closes the database connection
func (s *SQLiteLedgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
