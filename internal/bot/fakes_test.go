package bot

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"rosebud-x-bot/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeThreads struct {
	threads map[string]ThreadContext
	posts   map[string]Post
	err     error
	calls   int
}

func (f *fakeThreads) ReadThread(ctx context.Context, conversationID string) (ThreadContext, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.threads[conversationID], nil
}

func (f *fakeThreads) GetPost(ctx context.Context, postID string) (Post, error) {
	post, ok := f.posts[postID]
	if !ok {
		return Post{}, ErrNotFound
	}
	return post, nil
}

type fakeGenerator struct {
	text   string
	tier   service.Tier
	panics bool
	calls  int
	seen   [][]service.ThreadMessage

	// onGenerate runs before each generation, e.g. to advance a clock
	onGenerate func()
}

func (f *fakeGenerator) GenerateWithTier(ctx context.Context, thread []service.ThreadMessage) service.GenerationResult {
	f.calls++
	f.seen = append(f.seen, thread)
	if f.onGenerate != nil {
		f.onGenerate()
	}
	if f.panics {
		panic("generator exploded")
	}
	tier := f.tier
	if tier == "" {
		tier = service.TierPrimary
	}
	return service.GenerationResult{Text: f.text, Tier: tier}
}

type postedReply struct {
	Text        string
	InReplyToID string
}

type fakePoster struct {
	replies []postedReply
	err     error
	nextID  int
}

func (f *fakePoster) Reply(ctx context.Context, text, inReplyToID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.nextID++
	f.replies = append(f.replies, postedReply{Text: text, InReplyToID: inReplyToID})
	return "reply-" + inReplyToID, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	replied  map[string]string
	metadata map[string]map[string]string
	writes   int
	err      error
}

func newFakeLedger(ids ...string) *fakeLedger {
	l := &fakeLedger{replied: make(map[string]string), metadata: make(map[string]map[string]string)}
	for _, id := range ids {
		l.replied[id] = ""
	}
	return l
}

func (f *fakeLedger) HasReplied(ctx context.Context, postID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.replied[postID]
	return ok
}

func (f *fakeLedger) RecordReply(ctx context.Context, postID string, replyID *string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes++
	f.replied[postID] = *replyID
	f.metadata[postID] = metadata
	return nil
}

type fakeNotifier struct {
	posted     []string
	authErrors []error
}

func (f *fakeNotifier) ReplyPosted(ctx context.Context, mention Post, replyID, text string) {
	f.posted = append(f.posted, replyID)
}

func (f *fakeNotifier) AuthFailed(ctx context.Context, err error) {
	f.authErrors = append(f.authErrors, err)
}

type fakeMetrics struct {
	mu          sync.Mutex
	mentions    map[string]int
	generations map[string]int
	composes    map[string]int
	cycles      map[string]int
	ledgerErrs  int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		mentions:    make(map[string]int),
		generations: make(map[string]int),
		composes:    make(map[string]int),
		cycles:      make(map[string]int),
	}
}

func (f *fakeMetrics) RecordMention(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mentions[outcome]++
}

func (f *fakeMetrics) RecordGeneration(tier string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations[tier]++
}

func (f *fakeMetrics) RecordCompose(tier string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composes[tier]++
}

func (f *fakeMetrics) RecordCycle(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles[result]++
}

func (f *fakeMetrics) RecordLedgerError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledgerErrs++
}

func (f *fakeMetrics) cycleCount(result string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles[result]
}

type fakeMentions struct {
	mu          sync.Mutex
	userID      string
	lookupErr   error
	lookups     int
	mentions    []Post
	listErr     error
	lists       int
	block       chan struct{}
	lastMaxSize int
}

func (f *fakeMentions) LookupUserID(ctx context.Context, username string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	return f.userID, nil
}

func (f *fakeMentions) ListMentions(ctx context.Context, userID string, maxResults int) ([]Post, error) {
	f.mu.Lock()
	f.lists++
	f.lastMaxSize = maxResults
	block := f.block
	mentions, err := f.mentions, f.listErr
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return mentions, err
}

func (f *fakeMentions) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

type fakeCooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func newFakeCooldowns(now func() time.Time) *fakeCooldowns {
	return &fakeCooldowns{until: make(map[string]time.Time), now: now}
}

func (f *fakeCooldowns) SetCooldown(key string, until time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.until[key] = until
}

func (f *fakeCooldowns) Cooldown(key string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.until[key]
	if !ok || !f.now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// rateLimitError carries a reset time like the X client's errors
type rateLimitError struct {
	reset time.Time
}

func (e *rateLimitError) Error() string        { return "too many requests" }
func (e *rateLimitError) Unwrap() error        { return ErrRateLimited }
func (e *rateLimitError) ResetTime() time.Time { return e.reset }
