package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"rosebud-x-bot/internal/storage"
)

// DefaultRetention is the number of records kept before the oldest are evicted
const DefaultRetention = 1000

// Stats summarises the ledger. It is computed from the stored document on
// every call and never cached.
type Stats struct {
	Total   int        `json:"total"`
	Today   int        `json:"today"` // since midnight UTC
	Last24h int        `json:"last24h"`
	First   *time.Time `json:"first,omitempty"`
	Last    *time.Time `json:"last,omitempty"`
}

// Ledger records which source tweets have been replied to. Every operation
// loads the whole document from the store, changes it in memory and writes
// it back. Concurrent writers (including other processes) can lose updates.
type Ledger struct {
	store     storage.LedgerStore
	logger    *slog.Logger
	retention int
	now       func() time.Time
}

// New creates a ledger over store. A non-positive retention uses DefaultRetention.
func New(store storage.LedgerStore, logger *slog.Logger, retention int) *Ledger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Ledger{
		store:     store,
		logger:    logger,
		retention: retention,
		now:       time.Now,
	}
}

// HasReplied reports whether tweetID is in the ledger. A read failure is
// logged and reported as false so the bot keeps answering.
func (l *Ledger) HasReplied(ctx context.Context, tweetID string) bool {
	doc, err := l.store.Load(ctx)
	if err != nil {
		l.logger.Warn("Failed to read reply ledger, treating tweet as unseen",
			"tweet_id", tweetID,
			"error", err)
		return false
	}

	return indexOf(doc, tweetID) >= 0
}

// RecordReply appends a record for tweetID and evicts the oldest records once
// the retention ceiling is exceeded. Recording a key that is already present
// leaves the ledger unchanged.
func (l *Ledger) RecordReply(ctx context.Context, tweetID string, replyID *string, metadata map[string]string) error {
	if tweetID == "" {
		return fmt.Errorf("tweet id is required")
	}

	doc, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	if indexOf(doc, tweetID) >= 0 {
		l.logger.Debug("Tweet already recorded in ledger", "tweet_id", tweetID)
		return nil
	}

	now := l.now().UTC()
	doc.Records = append(doc.Records, storage.ReplyRecord{
		TweetID:   tweetID,
		ReplyID:   replyID,
		Timestamp: now,
		Metadata:  metadata,
	})

	if excess := len(doc.Records) - l.retention; excess > 0 {
		doc.Records = append([]storage.ReplyRecord(nil), doc.Records[excess:]...)
		l.logger.Debug("Evicted oldest ledger records", "evicted", excess)
	}

	doc.Metadata.LastUpdated = &now
	doc.Metadata.TotalReplies = len(doc.Records)

	if err := l.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}

	l.logger.Debug("Recorded reply",
		"tweet_id", tweetID,
		"reply_id", derefOrEmpty(replyID),
		"total", len(doc.Records))

	return nil
}

// Stats computes totals and time-window counts
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	doc, err := l.store.Load(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load ledger: %w", err)
	}

	now := l.now().UTC()
	year, month, day := now.Date()
	startOfDay := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	dayAgo := now.Add(-24 * time.Hour)

	stats := Stats{Total: len(doc.Records)}
	for i := range doc.Records {
		ts := doc.Records[i].Timestamp
		if !ts.Before(startOfDay) {
			stats.Today++
		}
		if ts.After(dayAgo) {
			stats.Last24h++
		}
	}

	if len(doc.Records) > 0 {
		first := doc.Records[0].Timestamp
		last := doc.Records[len(doc.Records)-1].Timestamp
		stats.First = &first
		stats.Last = &last
	}

	return stats, nil
}

// CleanupOlderThan removes records older than maxAgeDays and returns how many
// were removed. The document is only written back when something changed.
func (l *Ledger) CleanupOlderThan(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		return 0, fmt.Errorf("max age must be positive, got %d", maxAgeDays)
	}

	doc, err := l.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load ledger: %w", err)
	}

	now := l.now().UTC()
	cutoff := now.Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	kept := make([]storage.ReplyRecord, 0, len(doc.Records))
	for _, record := range doc.Records {
		if record.Timestamp.After(cutoff) {
			kept = append(kept, record)
		}
	}

	removed := len(doc.Records) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	doc.Records = kept
	doc.Metadata.LastCleaned = &now
	doc.Metadata.TotalReplies = len(kept)

	if err := l.store.Save(ctx, doc); err != nil {
		return 0, fmt.Errorf("failed to save ledger: %w", err)
	}

	l.logger.Info("Cleaned up old ledger records",
		"removed", removed,
		"remaining", len(kept),
		"max_age_days", maxAgeDays)

	return removed, nil
}

// Recent returns up to limit records, newest first
func (l *Ledger) Recent(ctx context.Context, limit int) ([]storage.ReplyRecord, error) {
	doc, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	records := make([]storage.ReplyRecord, 0, len(doc.Records))
	for i := len(doc.Records) - 1; i >= 0; i-- {
		records = append(records, doc.Records[i])
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Export returns the full ledger document
func (l *Ledger) Export(ctx context.Context) (*storage.LedgerDocument, error) {
	doc, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return doc, nil
}

// HealthCheck verifies the underlying store
func (l *Ledger) HealthCheck(ctx context.Context) error {
	return l.store.HealthCheck(ctx)
}

func indexOf(doc *storage.LedgerDocument, tweetID string) int {
	for i := range doc.Records {
		if doc.Records[i].TweetID == tweetID {
			return i
		}
	}
	return -1
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
