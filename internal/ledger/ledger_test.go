package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosebud-x-bot/internal/storage"
)

// failingStore returns errors for the selected operations
type failingStore struct {
	storage.LedgerStore
	loadErr error
	saveErr error
}

func (f *failingStore) Load(ctx context.Context) (*storage.LedgerDocument, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.LedgerStore.Load(ctx)
}

func (f *failingStore) Save(ctx context.Context, doc *storage.LedgerDocument) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.LedgerStore.Save(ctx, doc)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T, retention int) (*Ledger, *storage.JSONLedgerStore) {
	t.Helper()
	store := storage.NewJSONLedgerStore(filepath.Join(t.TempDir(), "replied-tweets.json"))
	require.NoError(t, store.Initialize(context.Background()))
	return New(store, testLogger(), retention), store
}

func replyID(s string) *string {
	return &s
}

func TestLedger_RecordAndHasReplied(t *testing.T) {
	l, _ := newTestLedger(t, 0)
	ctx := context.Background()

	assert.False(t, l.HasReplied(ctx, "123"))

	require.NoError(t, l.RecordReply(ctx, "123", replyID("999"), nil))
	assert.True(t, l.HasReplied(ctx, "123"))
	assert.False(t, l.HasReplied(ctx, "124"))

	require.NoError(t, l.RecordReply(ctx, "124", nil, map[string]string{"author": "bob"}))
	assert.True(t, l.HasReplied(ctx, "124"))

	doc, err := l.Export(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Records, 2)
	assert.Equal(t, "999", *doc.Records[0].ReplyID)
	assert.Nil(t, doc.Records[1].ReplyID)
	assert.Equal(t, "bob", doc.Records[1].Metadata["author"])
	assert.Equal(t, 2, doc.Metadata.TotalReplies)
	assert.NotNil(t, doc.Metadata.LastUpdated)
}

func TestLedger_RecordReplyDuplicateIsNoop(t *testing.T) {
	l, _ := newTestLedger(t, 0)
	ctx := context.Background()

	require.NoError(t, l.RecordReply(ctx, "123", replyID("1"), nil))
	require.NoError(t, l.RecordReply(ctx, "123", replyID("2"), nil))

	doc, err := l.Export(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Records, 1)
	assert.Equal(t, "1", *doc.Records[0].ReplyID)
}

func TestLedger_RecordReplyRequiresID(t *testing.T) {
	l, _ := newTestLedger(t, 0)
	assert.Error(t, l.RecordReply(context.Background(), "", nil, nil))
}

func TestLedger_RetentionEvictsOldest(t *testing.T) {
	l, store := newTestLedger(t, DefaultRetention)
	ctx := context.Background()

	// Seed 1000 records directly, then add one more through the ledger
	doc, err := store.Load(ctx)
	require.NoError(t, err)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < DefaultRetention; i++ {
		doc.Records = append(doc.Records, storage.ReplyRecord{
			TweetID:   fmt.Sprintf("t%04d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, store.Save(ctx, doc))

	require.NoError(t, l.RecordReply(ctx, "t1000", nil, nil))

	doc, err = l.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, doc.Records, DefaultRetention)
	assert.Equal(t, "t0001", doc.Records[0].TweetID)
	assert.Equal(t, "t1000", doc.Records[len(doc.Records)-1].TweetID)
	assert.False(t, l.HasReplied(ctx, "t0000"))
	assert.True(t, l.HasReplied(ctx, "t1000"))
}

func TestLedger_SmallRetention(t *testing.T) {
	l, _ := newTestLedger(t, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.RecordReply(ctx, id, nil, nil))
	}

	assert.False(t, l.HasReplied(ctx, "a"))
	assert.True(t, l.HasReplied(ctx, "b"))
	assert.True(t, l.HasReplied(ctx, "c"))
}

func TestLedger_FailOpen(t *testing.T) {
	l, store := newTestLedger(t, 0)
	ctx := context.Background()
	require.NoError(t, l.RecordReply(ctx, "123", nil, nil))

	broken := New(&failingStore{LedgerStore: store, loadErr: errors.New("disk on fire")}, testLogger(), 0)

	assert.False(t, broken.HasReplied(ctx, "123"))
	assert.Error(t, broken.RecordReply(ctx, "456", nil, nil))

	_, err := broken.Stats(ctx)
	assert.Error(t, err)
}

func TestLedger_SaveFailureReturned(t *testing.T) {
	_, store := newTestLedger(t, 0)
	ctx := context.Background()

	broken := New(&failingStore{LedgerStore: store, saveErr: errors.New("read-only")}, testLogger(), 0)

	err := broken.RecordReply(ctx, "123", nil, nil)
	assert.ErrorContains(t, err, "read-only")
	assert.False(t, broken.HasReplied(ctx, "123"))
}

func TestLedger_Stats(t *testing.T) {
	l, store := newTestLedger(t, 0)
	ctx := context.Background()

	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	doc.Records = []storage.ReplyRecord{
		{TweetID: "old", Timestamp: now.Add(-72 * time.Hour)},
		{TweetID: "yesterday", Timestamp: now.Add(-20 * time.Hour)},
		{TweetID: "morning", Timestamp: now.Add(-2 * time.Hour)},
		{TweetID: "recent", Timestamp: now.Add(-time.Minute)},
	}
	require.NoError(t, store.Save(ctx, doc))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Today)
	assert.Equal(t, 3, stats.Last24h)
	require.NotNil(t, stats.First)
	require.NotNil(t, stats.Last)
	assert.True(t, stats.First.Equal(now.Add(-72*time.Hour)))
	assert.True(t, stats.Last.Equal(now.Add(-time.Minute)))
}

func TestLedger_StatsTodayIsUTCDate(t *testing.T) {
	l, store := newTestLedger(t, 0)
	ctx := context.Background()

	// 05:00 on the 18th in UTC+10 is 19:00 on the 17th in UTC
	sydney := time.FixedZone("UTC+10", 10*60*60)
	now := time.Date(2025, 10, 18, 5, 0, 0, 0, sydney)
	l.now = func() time.Time { return now }

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	doc.Records = []storage.ReplyRecord{
		{TweetID: "previous-utc-day", Timestamp: time.Date(2025, 10, 16, 23, 0, 0, 0, time.UTC)},
		{TweetID: "utc-morning", Timestamp: time.Date(2025, 10, 17, 12, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, store.Save(ctx, doc))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Today)
	assert.Equal(t, 2, stats.Last24h)
}

func TestLedger_StatsEmpty(t *testing.T) {
	l, _ := newTestLedger(t, 0)

	stats, err := l.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Nil(t, stats.First)
	assert.Nil(t, stats.Last)
}

func TestLedger_CleanupOlderThan(t *testing.T) {
	l, store := newTestLedger(t, 0)
	ctx := context.Background()

	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	doc.Records = []storage.ReplyRecord{
		{TweetID: "ancient", Timestamp: now.AddDate(0, 0, -45)},
		{TweetID: "old", Timestamp: now.AddDate(0, 0, -31)},
		{TweetID: "fresh", Timestamp: now.AddDate(0, 0, -3)},
	}
	require.NoError(t, store.Save(ctx, doc))

	removed, err := l.CleanupOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, l.HasReplied(ctx, "old"))
	assert.True(t, l.HasReplied(ctx, "fresh"))

	doc, err = l.Export(ctx)
	require.NoError(t, err)
	require.NotNil(t, doc.Metadata.LastCleaned)
	assert.Equal(t, 1, doc.Metadata.TotalReplies)

	// Nothing left to remove
	removed, err = l.CleanupOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = l.CleanupOlderThan(ctx, 0)
	assert.Error(t, err)
}

func TestLedger_Recent(t *testing.T) {
	l, _ := newTestLedger(t, 0)
	ctx := context.Background()

	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}

	for _, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, l.RecordReply(ctx, id, nil, nil))
	}

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "4", recent[0].TweetID)
	assert.Equal(t, "3", recent[1].TweetID)

	all, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestLedger_SQLiteBackend(t *testing.T) {
	store := storage.NewSQLiteLedgerStore(filepath.Join(t.TempDir(), "bot_state.db"))
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))
	defer store.Close()

	l := New(store, testLogger(), 3)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, l.RecordReply(ctx, id, replyID("r-"+id), nil))
	}

	assert.False(t, l.HasReplied(ctx, "a"))
	assert.True(t, l.HasReplied(ctx, "d"))
	assert.NoError(t, l.HealthCheck(ctx))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}
