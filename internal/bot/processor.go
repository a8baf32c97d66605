// Package bot turns X mentions into game idea replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"rosebud-x-bot/internal/service"
)

// State is how far a mention got through the reply pipeline
type State string

const (
	StateUnseen         State = "unseen"
	StateFiltered       State = "filtered"
	StateContextualized State = "contextualized"
	StateGenerated      State = "generated"
	StatePosted         State = "posted"
	StateRecorded       State = "recorded"
	StateSkipped        State = "skipped"
)

// SkipReason explains why a mention was not answered
type SkipReason string

const (
	SkipAlreadyReplied SkipReason = "already_replied"
	SkipTooOld         SkipReason = "too_old"
	SkipNotAddressed   SkipReason = "not_addressed"
)

// ErrAlreadyReplied is returned by ManualReply for posts in the ledger
var ErrAlreadyReplied = errors.New("already replied to post")

// Outcome describes what happened to one mention. Err is set when the
// mention was abandoned before it was recorded.
type Outcome struct {
	MentionID      string
	State          State
	SkipReason     SkipReason
	ReplyID        string
	Reply          string
	GenerationTier service.Tier
	FormatTier     FormatTier
	Err            error
}

// Skipped reports whether a filter stopped the mention
func (o Outcome) Skipped() bool {
	return o.State == StateSkipped
}

// metricLabel is the outcome label used for the mentions counter
func (o Outcome) metricLabel() string {
	switch {
	case o.State == StateSkipped:
		return "skipped_" + string(o.SkipReason)
	case o.State == StateRecorded:
		return "replied"
	case o.State == StatePosted:
		return "replied_unrecorded"
	default:
		return "abandoned"
	}
}

// ProcessorConfig holds the mention filter settings
type ProcessorConfig struct {
	// BotUsername is the bot's handle without the leading "@"
	BotUsername string

	// Window is the maximum mention age; usually the poll interval
	Window time.Duration
}

// Dependencies are the collaborators used by a Processor. Notifier and
// Metrics are optional.
type Dependencies struct {
	Threads   ThreadSource
	Generator Generator
	Poster    Poster
	Ledger    Ledger
	Notifier  Notifier
	Metrics   Metrics
}

// Processor runs mentions through filter, context, generation, posting and
// recording
type Processor struct {
	logger    *slog.Logger
	handle    string
	window    time.Duration
	threads   ThreadSource
	generator Generator
	poster    Poster
	ledger    Ledger
	notifier  Notifier
	metrics   Metrics
	now       func() time.Time
}

// NewProcessor creates a mention processor
func NewProcessor(logger *slog.Logger, cfg ProcessorConfig, deps Dependencies) (*Processor, error) {
	handle := strings.TrimPrefix(strings.TrimSpace(cfg.BotUsername), "@")
	if handle == "" {
		return nil, fmt.Errorf("bot username is required")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("mention window must be positive, got %s", cfg.Window)
	}
	if deps.Threads == nil || deps.Generator == nil || deps.Poster == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("threads, generator, poster and ledger are required")
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Processor{
		logger:    logger,
		handle:    handle,
		window:    cfg.Window,
		threads:   deps.Threads,
		generator: deps.Generator,
		poster:    deps.Poster,
		ledger:    deps.Ledger,
		notifier:  notifier,
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// ProcessMentions handles mentions one at a time in the given order. Every
// mention's age is measured against the time the batch arrived, not the time
// its turn comes. It stops early when X reports a rate limit and returns that
// error.
func (p *Processor) ProcessMentions(ctx context.Context, mentions []Post) ([]Outcome, error) {
	asOf := p.now()
	outcomes := make([]Outcome, 0, len(mentions))
	for _, mention := range mentions {
		outcome := p.process(ctx, mention, asOf)
		outcomes = append(outcomes, outcome)

		if errors.Is(outcome.Err, ErrRateLimited) {
			p.logger.Warn("Rate limited while replying, stopping cycle",
				"tweet_id", mention.ID,
				"remaining", len(mentions)-len(outcomes))
			return outcomes, outcome.Err
		}
	}
	return outcomes, nil
}

// ProcessMention runs a single mention through the pipeline
func (p *Processor) ProcessMention(ctx context.Context, mention Post) Outcome {
	return p.process(ctx, mention, p.now())
}

func (p *Processor) process(ctx context.Context, mention Post, asOf time.Time) Outcome {
	outcome := p.filter(ctx, mention, asOf)
	if !outcome.Skipped() {
		p.respond(ctx, mention, "", &outcome)
	}

	p.metrics.RecordMention(outcome.metricLabel())
	return outcome
}

// filter applies the ledger, age and handle checks in that order. Age is
// taken relative to asOf.
func (p *Processor) filter(ctx context.Context, mention Post, asOf time.Time) Outcome {
	outcome := Outcome{MentionID: mention.ID, State: StateUnseen}

	skip := func(reason SkipReason, msg string, args ...any) Outcome {
		p.logger.Info(msg, append([]any{"tweet_id", mention.ID, "reason", reason}, args...)...)
		outcome.State = StateSkipped
		outcome.SkipReason = reason
		return outcome
	}

	if p.ledger.HasReplied(ctx, mention.ID) {
		return skip(SkipAlreadyReplied, "Already replied to mention")
	}

	if age := asOf.Sub(mention.CreatedAt); age > p.window {
		return skip(SkipTooOld, "Mention outside polling window",
			"age", age.Round(time.Second).String(),
			"window", p.window.String())
	}

	if !strings.Contains(strings.ToLower(mention.Text), "@"+strings.ToLower(p.handle)) {
		return skip(SkipNotAddressed, "Bot handle not in mention text",
			"author", mention.AuthorUsername)
	}

	outcome.State = StateFiltered
	return outcome
}

// respond builds, posts and records a reply. When text is empty the reply is
// generated from the conversation. Panics are recovered and abandon the
// mention in its current state.
func (p *Processor) respond(ctx context.Context, mention Post, text string, outcome *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("panic while processing mention: %v", r)
			p.logger.Error("Recovered panic while processing mention",
				"tweet_id", mention.ID,
				"state", outcome.State,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	p.logger.Info("Processing mention",
		"tweet_id", mention.ID,
		"author", mention.AuthorUsername,
		"conversation_id", mention.ConversationID)

	if text == "" {
		thread := p.readThread(ctx, mention)
		outcome.State = StateContextualized

		result := p.generator.GenerateWithTier(ctx, thread.Messages())
		text = result.Text
		outcome.GenerationTier = result.Tier
		p.metrics.RecordGeneration(string(result.Tier))
	}
	outcome.State = StateGenerated

	reply, tier, err := Compose(text)
	if err != nil {
		outcome.Err = err
		p.logger.Error("Reply formatting produced an oversized reply",
			"tweet_id", mention.ID,
			"prompt_length", len([]rune(text)),
			"error", err)
		return
	}
	outcome.Reply = reply
	outcome.FormatTier = tier
	p.metrics.RecordCompose(string(tier))

	replyID, err := p.poster.Reply(ctx, reply, mention.ID)
	if err != nil {
		outcome.Err = err
		p.logPostError(ctx, mention, err)
		return
	}
	outcome.ReplyID = replyID
	outcome.State = StatePosted

	p.logger.Info("Posted reply",
		"tweet_id", mention.ID,
		"reply_id", replyID,
		"reply_length", len([]rune(reply)),
		"generation_tier", outcome.GenerationTier,
		"format_tier", tier)
	p.notifier.ReplyPosted(ctx, mention, replyID, reply)

	metadata := map[string]string{
		"author":          mention.AuthorUsername,
		"conversation_id": mention.ConversationID,
		"format_tier":     string(tier),
	}
	if outcome.GenerationTier != "" {
		metadata["generation_tier"] = string(outcome.GenerationTier)
	}

	if err := p.ledger.RecordReply(ctx, mention.ID, &replyID, metadata); err != nil {
		p.metrics.RecordLedgerError()
		p.logger.Error("Failed to record reply, mention may be answered again",
			"tweet_id", mention.ID,
			"reply_id", replyID,
			"error", err)
		return
	}
	outcome.State = StateRecorded
}

// readThread returns the mention's conversation, or the mention alone when
// the conversation cannot be read
func (p *Processor) readThread(ctx context.Context, mention Post) ThreadContext {
	single := ThreadContext{mention}

	thread, err := p.threads.ReadThread(ctx, mention.ConversationID)
	if err != nil {
		p.logger.Warn("Could not read thread, using mention only",
			"tweet_id", mention.ID,
			"conversation_id", mention.ConversationID,
			"error", err)
		return single
	}
	if len(thread) == 0 {
		return single
	}

	for _, post := range thread {
		if post.ID == mention.ID {
			return thread
		}
	}

	withMention := append(ThreadContext{}, thread...)
	withMention = append(withMention, mention)
	sort.SliceStable(withMention, func(i, j int) bool {
		return withMention[i].CreatedAt.Before(withMention[j].CreatedAt)
	})
	return withMention
}

// logPostError logs a failed reply by failure kind
func (p *Processor) logPostError(ctx context.Context, mention Post, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		p.logger.Error("Not authorized to post reply; check the X app has Read and Write permissions and regenerate the access token",
			"tweet_id", mention.ID,
			"error", err)
		p.notifier.AuthFailed(ctx, err)
	case errors.Is(err, ErrNotFound):
		p.logger.Warn("Mention no longer exists, it may have been deleted",
			"tweet_id", mention.ID,
			"error", err)
	case errors.Is(err, ErrRateLimited):
		args := []any{"tweet_id", mention.ID, "error", err}
		if reset, ok := ResetTime(err); ok {
			args = append(args, "reset_at", reset.Format(time.RFC3339))
		}
		p.logger.Warn("Rate limited while posting reply", args...)
	default:
		p.logger.Error("Failed to post reply",
			"tweet_id", mention.ID,
			"error", err)
	}
}

// ManualReply answers a single post outside the polling loop. Filters other
// than the ledger are not applied; force also bypasses the ledger. An empty
// text generates a reply from the post's conversation.
func (p *Processor) ManualReply(ctx context.Context, postID, text string, force bool) (Outcome, error) {
	if !force && p.ledger.HasReplied(ctx, postID) {
		return Outcome{MentionID: postID, State: StateSkipped, SkipReason: SkipAlreadyReplied}, ErrAlreadyReplied
	}

	mention, err := p.threads.GetPost(ctx, postID)
	if err != nil {
		return Outcome{MentionID: postID, State: StateUnseen, Err: err}, fmt.Errorf("failed to fetch post %s: %w", postID, err)
	}

	outcome := Outcome{MentionID: postID, State: StateFiltered}
	p.respond(ctx, mention, strings.TrimSpace(text), &outcome)
	p.metrics.RecordMention(outcome.metricLabel())

	if outcome.Err != nil {
		return outcome, outcome.Err
	}
	return outcome, nil
}

type nopNotifier struct{}

func (nopNotifier) ReplyPosted(context.Context, Post, string, string) {}
func (nopNotifier) AuthFailed(context.Context, error)                 {}

type nopMetrics struct{}

func (nopMetrics) RecordMention(string)    {}
func (nopMetrics) RecordGeneration(string) {}
func (nopMetrics) RecordCompose(string)    {}
func (nopMetrics) RecordCycle(string)      {}
func (nopMetrics) RecordLedgerError()      {}
