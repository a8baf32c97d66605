package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLLedgerStore implements LedgerStore using MySQL
type MySQLLedgerStore struct {
	sqlLedger
	dsn string
}

// MySQLConfig holds MySQL connection configuration
type MySQLConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Timeout  string
}

// DSN builds the driver connection string
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if timeout, err := time.ParseDuration(c.Timeout); err == nil {
		cfg.Timeout = timeout
	}
	return cfg.FormatDSN()
}

// NewMySQLLedgerStore creates a new MySQL ledger store
func NewMySQLLedgerStore(config MySQLConfig) *MySQLLedgerStore {
	return &MySQLLedgerStore{dsn: config.DSN()}
}

// Connection and statement retry policy
const (
	connectAttempts   = 5
	connectBaseDelay  = time.Second
	statementAttempts = 3
	statementBackoff  = 500 * time.Millisecond
)

// MySQL server error numbers that are safe to retry
var retryableMySQLErrors = map[uint16]bool{
	1205: true, // lock wait timeout
	1213: true, // deadlock
	2006: true, // server has gone away
	2013: true, // lost connection during query
}

// withBackoff runs op up to attempts times, doubling delay between attempts.
// It stops early when retryable reports false for an error.
func withBackoff(ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, op func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-time.After(delay << attempt):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// connect opens the pool and pings it, retrying while the server comes up
func (s *MySQLLedgerStore) connect(ctx context.Context) (*sql.DB, error) {
	var db *sql.DB
	err := withBackoff(ctx, connectAttempts, connectBaseDelay, func(error) bool { return true }, func(attempt int) error {
		conn, err := sql.Open("mysql", s.dsn)
		if err != nil {
			return fmt.Errorf("attempt %d: open: %w", attempt+1, err)
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("attempt %d: ping: %w", attempt+1, err)
		}
		db = conn
		return nil
	})
	return db, err
}

// isRetryableError reports whether err is a transient connection or locking
// failure
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return retryableMySQLErrors[mysqlErr.Number]
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// retry runs a statement with the statement retry policy
func (s *MySQLLedgerStore) retry(ctx context.Context, op func() error) error {
	return withBackoff(ctx, statementAttempts, statementBackoff, isRetryableError, func(int) error {
		return op()
	})
}

// Initialize connects, creates the ledger tables and seeds the metadata row
func (s *MySQLLedgerStore) Initialize(ctx context.Context) error {
	db, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to establish database connection: %w", err)
	}

	s.db = db

	s.db.SetMaxOpenConns(10)
	s.db.SetMaxIdleConns(5)
	s.db.SetConnMaxLifetime(time.Hour)

	if err := s.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return s.retry(ctx, func() error {
		return s.ensureMetadata(ctx)
	})
}

func (s *MySQLLedgerStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS replied_tweets (
			seq BIGINT PRIMARY KEY AUTO_INCREMENT,
			tweet_id VARCHAR(64) NOT NULL,
			reply_id VARCHAR(64) NULL,
			replied_at BIGINT NOT NULL,
			metadata TEXT NULL,
			UNIQUE KEY uk_replied_tweets_tweet_id (tweet_id),
			INDEX idx_replied_tweets_replied_at (replied_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		`CREATE TABLE IF NOT EXISTS ledger_metadata (
			id INT PRIMARY KEY,
			document TEXT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}

	return nil
}

// Load reads the complete ledger document
func (s *MySQLLedgerStore) Load(ctx context.Context) (*LedgerDocument, error) {
	var doc *LedgerDocument
	err := s.retry(ctx, func() error {
		var err error
		doc, err = s.load(ctx)
		return err
	})
	return doc, err
}

// Save replaces the stored document
func (s *MySQLLedgerStore) Save(ctx context.Context, doc *LedgerDocument) error {
	return s.retry(ctx, func() error {
		return s.save(ctx, doc)
	})
}

// HealthCheck verifies that the database connection is working
func (s *MySQLLedgerStore) HealthCheck(ctx context.Context) error {
	return s.healthCheck(ctx)
}

// Close closes the database connection
func (s *MySQLLedgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
