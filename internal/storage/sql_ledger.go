package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// sqlLedger holds the load/save logic shared by the SQL backends. Both
// drivers use "?" placeholders, so the statements are identical.
type sqlLedger struct {
	db *sql.DB
}

const (
	selectRecordsQuery = `
		SELECT tweet_id, reply_id, replied_at, metadata
		FROM replied_tweets
		ORDER BY seq ASC
	`
	insertRecordQuery = `
		INSERT INTO replied_tweets (tweet_id, reply_id, replied_at, metadata)
		VALUES (?, ?, ?, ?)
	`
	selectMetadataQuery = `SELECT document FROM ledger_metadata WHERE id = 1`
	deleteMetadataQuery = `DELETE FROM ledger_metadata WHERE id = 1`
	insertMetadataQuery = `INSERT INTO ledger_metadata (id, document) VALUES (1, ?)`
)

// load reads all records in insertion order plus the metadata row
func (l *sqlLedger) load(ctx context.Context) (*LedgerDocument, error) {
	if l.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	doc := NewLedgerDocument(time.Now())

	var rawMetadata string
	err := l.db.QueryRowContext(ctx, selectMetadataQuery).Scan(&rawMetadata)
	switch {
	case err == sql.ErrNoRows:
		// Keep the fresh metadata
	case err != nil:
		return nil, fmt.Errorf("failed to read ledger metadata: %w", err)
	default:
		if err := json.Unmarshal([]byte(rawMetadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode ledger metadata: %w", err)
		}
	}

	rows, err := l.db.QueryContext(ctx, selectRecordsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query replied tweets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			record      ReplyRecord
			replyID     sql.NullString
			repliedAt   int64
			rawMetadata sql.NullString
		)
		if err := rows.Scan(&record.TweetID, &replyID, &repliedAt, &rawMetadata); err != nil {
			return nil, fmt.Errorf("failed to scan replied tweet: %w", err)
		}
		if replyID.Valid {
			id := replyID.String
			record.ReplyID = &id
		}
		record.Timestamp = time.UnixMilli(repliedAt).UTC()
		if rawMetadata.Valid && rawMetadata.String != "" {
			if err := json.Unmarshal([]byte(rawMetadata.String), &record.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", record.TweetID, err)
			}
		}
		doc.Records = append(doc.Records, record)
	}

	return doc, rows.Err()
}

// save replaces every row inside one transaction
func (l *sqlLedger) save(ctx context.Context, doc *LedgerDocument) error {
	if l.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode ledger metadata: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM replied_tweets`); err != nil {
		return fmt.Errorf("failed to clear replied tweets: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, insertRecordQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insert.Close()

	for _, record := range doc.Records {
		var rawMetadata any
		if len(record.Metadata) > 0 {
			encoded, err := json.Marshal(record.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata for %s: %w", record.TweetID, err)
			}
			rawMetadata = string(encoded)
		}
		if _, err := insert.ExecContext(ctx, record.TweetID, record.ReplyID, record.Timestamp.UnixMilli(), rawMetadata); err != nil {
			return fmt.Errorf("failed to insert replied tweet %s: %w", record.TweetID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, deleteMetadataQuery); err != nil {
		return fmt.Errorf("failed to clear ledger metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertMetadataQuery, string(metadata)); err != nil {
		return fmt.Errorf("failed to write ledger metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}

// ensureMetadata writes a fresh metadata row when none exists yet
func (l *sqlLedger) ensureMetadata(ctx context.Context) error {
	var count int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_metadata`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count ledger metadata: %w", err)
	}
	if count > 0 {
		return nil
	}

	metadata, err := json.Marshal(NewLedgerDocument(time.Now()).Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode ledger metadata: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, insertMetadataQuery, string(metadata)); err != nil {
		return fmt.Errorf("failed to seed ledger metadata: %w", err)
	}
	return nil
}

// healthCheck pings the database and touches the ledger table
func (l *sqlLedger) healthCheck(ctx context.Context) error {
	if l.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, "SELECT COUNT(*) FROM replied_tweets"); err != nil {
		return fmt.Errorf("database health check query failed: %w", err)
	}
	return nil
}
