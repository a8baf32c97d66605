package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringPtr(s string) *string {
	return &s
}

// assertStoreRoundTrip saves a document with ordered records and checks that
// every backend returns it unchanged
func assertStoreRoundTrip(t *testing.T, store LedgerStore) {
	t.Helper()
	ctx := context.Background()

	initial, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, initial.Records)
	assert.Equal(t, LedgerVersion, initial.Metadata.Version)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	updated := base.Add(2 * time.Minute)

	doc := &LedgerDocument{
		Records: []ReplyRecord{
			{TweetID: "300", ReplyID: stringPtr("900"), Timestamp: base},
			{TweetID: "100", ReplyID: nil, Timestamp: base.Add(time.Minute)},
			{
				TweetID:   "200",
				ReplyID:   stringPtr("901"),
				Timestamp: updated,
				Metadata:  map[string]string{"author": "alice", "tier": "A"},
			},
		},
		Metadata: LedgerMetadata{
			Created:      base,
			Version:      LedgerVersion,
			LastUpdated:  &updated,
			TotalReplies: 3,
		},
	}

	require.NoError(t, store.Save(ctx, doc))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Records, 3)

	// Insertion order is preserved, not key order
	assert.Equal(t, "300", loaded.Records[0].TweetID)
	assert.Equal(t, "100", loaded.Records[1].TweetID)
	assert.Equal(t, "200", loaded.Records[2].TweetID)

	assert.Equal(t, "900", *loaded.Records[0].ReplyID)
	assert.Nil(t, loaded.Records[1].ReplyID)
	assert.True(t, base.Equal(loaded.Records[0].Timestamp))
	assert.Equal(t, "alice", loaded.Records[2].Metadata["author"])

	assert.Equal(t, 3, loaded.Metadata.TotalReplies)
	require.NotNil(t, loaded.Metadata.LastUpdated)
	assert.True(t, updated.Equal(*loaded.Metadata.LastUpdated))

	// A second save fully replaces the previous contents
	doc.Records = doc.Records[1:]
	require.NoError(t, store.Save(ctx, doc))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Records, 2)
	assert.Equal(t, "100", loaded.Records[0].TweetID)

	assert.NoError(t, store.HealthCheck(ctx))
}
