package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CooldownKey is the cooldown entry used for X rate limits
const CooldownKey = "x_api"

// Cooldowns tracks rate limit windows
type Cooldowns interface {
	SetCooldown(key string, until time.Time)
	Cooldown(key string) (time.Time, bool)
}

// LedgerCleaner prunes old ledger records
type LedgerCleaner interface {
	CleanupOlderThan(ctx context.Context, maxAgeDays int) (int, error)
}

// PollerConfig controls mention polling
type PollerConfig struct {
	BotUsername string
	Interval    time.Duration
	MaxResults  int

	// MaxAgeDays enables a daily ledger cleanup when positive
	MaxAgeDays int
}

// Poller fetches mentions on a fixed interval and hands them to a Processor
type Poller struct {
	logger    *slog.Logger
	cfg       PollerConfig
	mentions  MentionSource
	processor *Processor
	cooldowns Cooldowns
	cleaner   LedgerCleaner
	metrics   Metrics

	mu      sync.Mutex
	userID  string
	cron    *cron.Cron
	cycleID cron.EntryID
	started bool
	running sync.WaitGroup
}

// NewPoller creates a poller. cooldowns, cleaner and metrics may be nil.
func NewPoller(logger *slog.Logger, cfg PollerConfig, mentions MentionSource, processor *Processor, cooldowns Cooldowns, cleaner LedgerCleaner, metrics Metrics) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.Interval)
	}
	if cfg.BotUsername == "" {
		return nil, fmt.Errorf("bot username is required")
	}
	if mentions == nil || processor == nil {
		return nil, fmt.Errorf("mention source and processor are required")
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Poller{
		logger:    logger,
		cfg:       cfg,
		mentions:  mentions,
		processor: processor,
		cooldowns: cooldowns,
		cleaner:   cleaner,
		metrics:   metrics,
	}, nil
}

// RunCycle performs one poll: cooldown check, mention fetch and sequential
// processing. Upstream failures are logged and returned; they never panic.
func (p *Poller) RunCycle(ctx context.Context) error {
	if p.cooldowns != nil {
		if until, ok := p.cooldowns.Cooldown(CooldownKey); ok {
			p.logger.Info("Skipping poll while rate limited",
				"reset_at", until.Format(time.RFC3339),
				"wait", time.Until(until).Round(time.Second).String())
			p.metrics.RecordCycle("cooldown")
			return nil
		}
	}

	start := time.Now()
	p.logger.Info("Checking for new mentions", "bot_username", p.cfg.BotUsername)

	userID, err := p.botUserID(ctx)
	if err != nil {
		return p.cycleFailed("resolve bot user", err)
	}

	mentions, err := p.mentions.ListMentions(ctx, userID, p.cfg.MaxResults)
	if err != nil {
		return p.cycleFailed("list mentions", err)
	}
	if len(mentions) == 0 {
		p.logger.Info("No new mentions found")
		p.metrics.RecordCycle("ok")
		return nil
	}

	p.logger.Info("Found mentions", "count", len(mentions))

	outcomes, err := p.processor.ProcessMentions(ctx, mentions)

	var replied, skipped, abandoned int
	for _, outcome := range outcomes {
		switch {
		case outcome.Skipped():
			skipped++
		case outcome.State == StateRecorded || outcome.State == StatePosted:
			replied++
		default:
			abandoned++
		}
	}
	p.logger.Info("Poll cycle complete",
		"mentions", len(mentions),
		"replied", replied,
		"skipped", skipped,
		"abandoned", abandoned,
		"duration", time.Since(start).Round(time.Millisecond).String())

	if err != nil {
		return p.cycleFailed("process mentions", err)
	}
	p.metrics.RecordCycle("ok")
	return nil
}

// cycleFailed logs an upstream failure by kind and arms the cooldown for
// rate limits
func (p *Poller) cycleFailed(op string, err error) error {
	switch {
	case errors.Is(err, ErrRateLimited):
		args := []any{"op", op, "error", err}
		if reset, ok := ResetTime(err); ok {
			args = append(args, "reset_at", reset.Format(time.RFC3339))
			if p.cooldowns != nil {
				p.cooldowns.SetCooldown(CooldownKey, reset)
			}
		}
		p.logger.Warn("Rate limit hit, waiting for next poll", args...)
		p.metrics.RecordCycle("rate_limited")
	case errors.Is(err, ErrUnauthorized):
		p.logger.Error("X rejected the bot credentials; check the API keys, access tokens and app permissions",
			"op", op,
			"error", err)
		p.metrics.RecordCycle("unauthorized")
	default:
		p.logger.Error("Poll cycle failed",
			"op", op,
			"error", err)
		p.metrics.RecordCycle("error")
	}
	return fmt.Errorf("%s: %w", op, err)
}

// botUserID resolves the bot account ID once and caches it
func (p *Poller) botUserID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.userID != "" {
		return p.userID, nil
	}

	id, err := p.mentions.LookupUserID(ctx, p.cfg.BotUsername)
	if err != nil {
		return "", err
	}
	p.userID = id
	p.logger.Info("Resolved bot account", "bot_username", p.cfg.BotUsername, "user_id", id)
	return id, nil
}

// Start runs a cycle immediately and then every interval. Cycles never
// overlap; cancelling ctx does not interrupt a running cycle, use Stop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("poller already started")
	}

	cycleCtx := context.WithoutCancel(ctx)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{p.logger}), cron.SkipIfStillRunning(cronLogger{p.logger})))

	cycleID, err := c.AddFunc(fmt.Sprintf("@every %s", p.cfg.Interval), func() {
		_ = p.RunCycle(cycleCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule poll: %w", err)
	}

	if p.cleaner != nil && p.cfg.MaxAgeDays > 0 {
		if _, err := c.AddFunc("@daily", func() { p.cleanup(cycleCtx) }); err != nil {
			return fmt.Errorf("failed to schedule ledger cleanup: %w", err)
		}
	}

	p.cron = c
	p.cycleID = cycleID
	p.started = true
	c.Start()

	p.logger.Info("Poller started",
		"interval", p.cfg.Interval.String(),
		"max_results", p.cfg.MaxResults,
		"ledger_max_age_days", p.cfg.MaxAgeDays)

	first := c.Entry(cycleID).WrappedJob
	p.running.Add(1)
	go func() {
		defer p.running.Done()
		first.Run()
	}()

	return nil
}

// Stop halts scheduling and waits for a running cycle to finish
func (p *Poller) Stop() {
	p.mu.Lock()
	c := p.cron
	started := p.started
	p.started = false
	p.mu.Unlock()

	if !started {
		return
	}

	<-c.Stop().Done()
	p.running.Wait()
	p.logger.Info("Poller stopped")
}

func (p *Poller) cleanup(ctx context.Context) {
	removed, err := p.cleaner.CleanupOlderThan(ctx, p.cfg.MaxAgeDays)
	if err != nil {
		p.metrics.RecordLedgerError()
		p.logger.Error("Ledger cleanup failed", "max_age_days", p.cfg.MaxAgeDays, "error", err)
		return
	}
	p.logger.Info("Ledger cleanup complete", "removed", removed, "max_age_days", p.cfg.MaxAgeDays)
}

// cronLogger routes cron's own messages to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
