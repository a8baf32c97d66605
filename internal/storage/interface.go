package storage

import (
	"context"
	"time"
)

// LedgerVersion is written into newly created ledger documents.
const LedgerVersion = "1.0.0"

// ReplyRecord marks one source tweet the bot has already answered
type ReplyRecord struct {
	TweetID   string            `json:"tweetId"`            // Source tweet ID (unique key)
	ReplyID   *string           `json:"replyId"`            // ID of our reply, nil when unknown
	Timestamp time.Time         `json:"timestamp"`          // When the reply was recorded
	Metadata  map[string]string `json:"metadata,omitempty"` // Free-form details (author, tier, ...)
}

// LedgerMetadata describes the ledger document as a whole
type LedgerMetadata struct {
	Created      time.Time  `json:"created"`
	Version      string     `json:"version"`
	LastUpdated  *time.Time `json:"lastUpdated,omitempty"`
	LastCleaned  *time.Time `json:"lastCleaned,omitempty"`
	TotalReplies int        `json:"totalReplies"`
}

// LedgerDocument is the complete persisted ledger. Records are kept in
// insertion order, oldest first.
type LedgerDocument struct {
	Records  []ReplyRecord  `json:"repliedTweets"`
	Metadata LedgerMetadata `json:"metadata"`
}

// NewLedgerDocument returns an empty document stamped with the creation time
func NewLedgerDocument(now time.Time) *LedgerDocument {
	return &LedgerDocument{
		Records: []ReplyRecord{},
		Metadata: LedgerMetadata{
			Created: now.UTC(),
			Version: LedgerVersion,
		},
	}
}

// LedgerStore persists the ledger document. Every ledger operation loads the
// whole document, changes it in memory and saves it back; there are no
// partial updates and no cross-process locking.
type LedgerStore interface {
	// Initialize prepares the backing store (directories, tables, empty document)
	Initialize(ctx context.Context) error

	// Load reads the complete ledger document
	Load(ctx context.Context) (*LedgerDocument, error)

	// Save replaces the stored document with doc
	Save(ctx context.Context, doc *LedgerDocument) error

	// HealthCheck verifies that the store is reachable
	HealthCheck(ctx context.Context) error

	// Close releases resources held by the store
	Close() error
}
