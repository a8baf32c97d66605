package bot

import (
	"context"
	"time"

	"rosebud-x-bot/internal/service"
)

// Placeholders used when a post's author cannot be resolved
const (
	UnknownUsername = "unknown"
	UnknownName     = "Unknown"
)

// Post is a single X post as seen by the bot. Posts are never mutated.
type Post struct {
	ID             string
	Text           string
	AuthorID       string
	AuthorUsername string
	AuthorName     string
	CreatedAt      time.Time
	ConversationID string
}

// ThreadContext is a conversation ordered by CreatedAt, oldest first. It may
// be empty.
type ThreadContext []Post

// Messages converts the thread into generator input
func (t ThreadContext) Messages() []service.ThreadMessage {
	messages := make([]service.ThreadMessage, 0, len(t))
	for _, post := range t {
		messages = append(messages, service.ThreadMessage{
			Username: post.AuthorUsername,
			Text:     post.Text,
		})
	}
	return messages
}

// MentionSource lists posts that mention the bot account
type MentionSource interface {
	// LookupUserID resolves a handle (without "@") to an account ID
	LookupUserID(ctx context.Context, username string) (string, error)

	// ListMentions returns recent mentions of userID in API order
	ListMentions(ctx context.Context, userID string, maxResults int) ([]Post, error)
}

// ThreadSource reads conversations and single posts
type ThreadSource interface {
	ReadThread(ctx context.Context, conversationID string) (ThreadContext, error)
	GetPost(ctx context.Context, postID string) (Post, error)
}

// Poster publishes replies and returns the new post's ID
type Poster interface {
	Reply(ctx context.Context, text, inReplyToID string) (string, error)
}

// Generator produces a game prompt for a conversation. It never fails.
type Generator interface {
	GenerateWithTier(ctx context.Context, thread []service.ThreadMessage) service.GenerationResult
}

// Ledger remembers which posts have already been answered
type Ledger interface {
	HasReplied(ctx context.Context, postID string) bool
	RecordReply(ctx context.Context, postID string, replyID *string, metadata map[string]string) error
}

// Notifier receives operator notifications. Implementations must not block
// for long and must swallow their own errors.
type Notifier interface {
	ReplyPosted(ctx context.Context, mention Post, replyID, text string)
	AuthFailed(ctx context.Context, err error)
}

// Metrics receives processing counters
type Metrics interface {
	RecordMention(outcome string)
	RecordGeneration(tier string)
	RecordCompose(tier string)
	RecordCycle(result string)
	RecordLedgerError()
}
