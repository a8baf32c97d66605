package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rosebud-x-bot/internal/bot"
	"rosebud-x-bot/internal/config"
	"rosebud-x-bot/internal/ledger"
	"rosebud-x-bot/internal/monitor"
	"rosebud-x-bot/internal/notify"
	"rosebud-x-bot/internal/service"
	"rosebud-x-bot/internal/storage"
	"rosebud-x-bot/internal/twitter"
)

// app holds the collaborators shared by the CLI commands
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.LedgerStore
	ledger    *ledger.Ledger
	limiter   *monitor.RateLimitManager
	registry  *prometheus.Registry
	metrics   *monitor.Metrics
	x         *twitter.Client
	generator *service.PromptGenerator
	processor *bot.Processor
}

// newLogger builds the process logger and installs it as the default
func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// openLedgerStore creates and initializes the configured ledger backend
func openLedgerStore(ctx context.Context, cfg config.LedgerConfig) (storage.LedgerStore, error) {
	var store storage.LedgerStore
	switch cfg.Backend {
	case config.LedgerBackendSQLite:
		store = storage.NewSQLiteLedgerStore(cfg.DatabasePath)
	case config.LedgerBackendMySQL:
		store = storage.NewMySQLLedgerStore(cfg.MySQL)
	case config.LedgerBackendJSON, "":
		store = storage.NewJSONLedgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", cfg.Backend)
	}

	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s ledger store: %w", cfg.Backend, err)
	}
	return store, nil
}

// openLedger opens the store and wraps it in a Ledger
func openLedger(ctx context.Context, logger *slog.Logger, cfg config.LedgerConfig) (*ledger.Ledger, storage.LedgerStore, error) {
	store, err := openLedgerStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Ledger store initialized", "backend", cfg.Backend)
	return ledger.New(store, logger, cfg.Retention), store, nil
}

// rateLimitConfig builds the limiter settings for the selected provider
func rateLimitConfig(ai config.AIConfig) monitor.ProviderConfig {
	return monitor.ProviderConfig{
		ProviderID: ai.Provider,
		Limits: map[string]int{
			"minute": ai.RateLimitPerMinute,
			"day":    ai.RateLimitPerDay,
		},
		Thresholds: map[string]float64{
			"warning":   0.75,
			"throttled": 1.0,
		},
	}
}

// newTextGenerator creates the configured AI provider
func newTextGenerator(ctx context.Context, logger *slog.Logger, ai config.AIConfig, limiter monitor.AIProviderRateLimiter) (service.TextGenerator, error) {
	switch ai.Provider {
	case config.AIProviderOllama:
		ollama := service.NewOllamaService(logger, ai.OllamaHost, ai.OllamaModel, ai.OllamaTimeout)
		ollama.SetRateLimiter(limiter)
		return ollama, nil
	case config.AIProviderGemini, "":
		gemini, err := service.NewGeminiService(ctx, logger, ai.GeminiAPIKey, ai.GeminiModel, ai.GeminiFallbacks)
		if err != nil {
			return nil, err
		}
		gemini.SetRateLimiter(limiter)
		return gemini, nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", ai.Provider)
	}
}

// newApp wires every collaborator from cfg. The caller must call close.
func newApp(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var err error
	a.ledger, a.store, err = openLedger(ctx, logger, cfg.Ledger)
	if err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.metrics, err = monitor.NewMetrics(a.registry); err != nil {
		a.close()
		return nil, err
	}

	a.limiter = monitor.NewRateLimitManager(logger, []monitor.ProviderConfig{rateLimitConfig(cfg.AI)})
	a.limiter.RegisterStatusCallback(a.metrics.SetProviderStatus)

	provider, err := newTextGenerator(ctx, logger, cfg.AI, a.limiter)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize AI provider: %w", err)
	}
	a.generator = service.NewPromptGenerator(logger, provider)
	logger.Info("AI provider initialized", "provider", provider.GetProviderID())

	a.x, err = twitter.NewClient(logger, twitter.Credentials{
		APIKey:            cfg.Twitter.APIKey,
		APISecret:         cfg.Twitter.APISecret,
		AccessToken:       cfg.Twitter.AccessToken,
		AccessTokenSecret: cfg.Twitter.AccessTokenSecret,
	}, cfg.MaxThreadLength)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize X client: %w", err)
	}

	var notifier bot.Notifier
	if cfg.DiscordWebhookURL != "" {
		discord, err := notify.NewDiscordNotifier(logger, cfg.DiscordWebhookURL, cfg.BotUsername)
		if err != nil {
			logger.Warn("Discord notifications disabled", "error", err)
		} else {
			notifier = discord
			logger.Info("Discord notifications enabled")
		}
	}

	a.processor, err = bot.NewProcessor(logger, bot.ProcessorConfig{
		BotUsername: cfg.BotUsername,
		Window:      cfg.PollInterval,
	}, bot.Dependencies{
		Threads:   a.x,
		Generator: a.generator,
		Poster:    a.x,
		Ledger:    a.ledger,
		Notifier:  notifier,
		Metrics:   a.metrics,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

// newPoller creates the mention poller for a
func (a *app) newPoller() (*bot.Poller, error) {
	return bot.NewPoller(a.logger, bot.PollerConfig{
		BotUsername: a.cfg.BotUsername,
		Interval:    a.cfg.PollInterval,
		MaxResults:  a.cfg.MentionsMaxResults,
		MaxAgeDays:  a.cfg.Ledger.MaxAgeDays,
	}, a.x, a.processor, a.limiter, a.ledger, a.metrics)
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("Error closing ledger store", "error", err)
	}
}
