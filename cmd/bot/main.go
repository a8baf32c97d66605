package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rosebud-x-bot/internal/bot"
	"rosebud-x-bot/internal/config"
	"rosebud-x-bot/internal/health"
	"rosebud-x-bot/internal/ledger"
	"rosebud-x-bot/internal/scenario"
	"rosebud-x-bot/internal/service"
)

const botName = "Rosebud X Bot"

// errMissingConfig is returned after missing keys have been reported; main
// exits with status 1
var errMissingConfig = errors.New("required configuration is missing")

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var healthCheck bool

	root := &cobra.Command{
		Use:          "rosebud-x-bot",
		Short:        "Reply to X mentions with game ideas and Rosebud links",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if healthCheck {
				return runHealthCheck(cmd)
			}
			return runBot(cmd, args)
		},
	}
	root.Flags().BoolVar(&healthCheck, "health-check", false, "Probe the keep-alive server and exit (for container health checks)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Poll for mentions and reply until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runBot,
		},
		newReplyCommand(),
		newScenariosCommand(),
		&cobra.Command{
			Use:   "check-env",
			Short: "Report which required configuration values are set",
			Args:  cobra.NoArgs,
			RunE:  runCheckEnv,
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show reply ledger statistics",
			Args:  cobra.NoArgs,
			RunE:  runStats,
		},
		newCleanupCommand(),
		newRecentCommand(),
		&cobra.Command{
			Use:   "export",
			Short: "Print the whole reply ledger as JSON",
			Args:  cobra.NoArgs,
			RunE:  runExport,
		},
	)

	return root
}

// loadConfig reads the full configuration, listing missing keys on stderr
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if missing := config.MissingRequired(); len(missing) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Missing required environment variables:")
		for _, key := range missing {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", key)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Set them in the environment or a .env file, then run check-env.")
		return nil, errMissingConfig
	}
	return config.Load()
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("Rosebud X Bot starting up",
		"bot_username", cfg.BotUsername,
		"poll_interval", cfg.PollInterval.String(),
		"ai_provider", cfg.AI.Provider,
		"ledger_backend", cfg.Ledger.Backend,
		"environment", cfg.Environment)

	ctx := cmd.Context()
	a, err := newApp(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize bot", "error", err)
		return err
	}
	defer a.close()

	var keepAlive *health.Server
	if cfg.KeepAliveEnabled {
		keepAlive = health.NewServer(logger, health.Config{
			BotName:     botName,
			Environment: cfg.Environment,
			Port:        cfg.Port,
		}, a.ledger, a.registry)
		if err := keepAlive.Start(); err != nil {
			logger.Warn("Keep-alive server disabled", "error", err)
			keepAlive = nil
		}
	}

	poller, err := a.newPoller()
	if err != nil {
		return err
	}
	if err := poller.Start(ctx); err != nil {
		return err
	}

	logger.Info("Bot is running. Press CTRL+C to exit.")

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("Shutdown signal received, waiting for the current poll to finish")
	poller.Stop()

	if keepAlive != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := keepAlive.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping keep-alive server", "error", err)
		}
	}

	logger.Info("Bot shutdown completed successfully")
	return nil
}

// runHealthCheck probes the local keep-alive server
func runHealthCheck(cmd *cobra.Command) error {
	port, err := config.GetEnvInt("PORT", 3000, 1, 65535)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/healthz", port), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "healthy")
	return nil
}

func newReplyCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reply <tweet-id> [text...]",
		Short: "Post a one-off reply to a post, generated from its thread when no text is given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			a, err := newApp(cmd.Context(), logger, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			outcome, err := a.processor.ManualReply(cmd.Context(), args[0], strings.Join(args[1:], " "), force)
			if errors.Is(err, bot.ErrAlreadyReplied) {
				return fmt.Errorf("already replied to %s (use --force to reply again)", args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reply ID: %s\n", outcome.ReplyID)
			fmt.Fprintf(out, "Reply URL: https://x.com/%s/status/%s\n", cfg.BotUsername, outcome.ReplyID)
			fmt.Fprintf(out, "Length: %d/%d (%s)\n", len([]rune(outcome.Reply)), bot.MaxTweetLength, outcome.FormatTier)
			if outcome.State != bot.StateRecorded {
				fmt.Fprintln(out, "Warning: reply was posted but could not be recorded in the ledger")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Reply even if the ledger says the post was already answered")

	return cmd
}

func newScenariosCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Dry-run the reply pipeline against canned conversations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List available scenarios",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				list, err := scenario.List()
				if err != nil {
					return err
				}
				for _, s := range list {
					fmt.Fprintf(cmd.OutOrStdout(), "%-18s %d posts  %s\n", s.Name, len(s.Thread), s.Description)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "run [name]",
			Short: "Generate and compose replies for one or all scenarios without posting",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runScenarios,
		},
	)

	return cmd
}

func runScenarios(cmd *cobra.Command, args []string) error {
	var scenarios []scenario.Scenario
	if len(args) == 1 {
		s, err := scenario.Get(args[0])
		if err != nil {
			return err
		}
		scenarios = append(scenarios, s)
	} else {
		list, err := scenario.List()
		if err != nil {
			return err
		}
		scenarios = list
	}

	logger := newLogger(logLevelFromEnv())
	generator := scenarioGenerator(cmd.Context(), logger)

	out := cmd.OutOrStdout()
	failures := 0
	for _, s := range scenarios {
		result := generator.GenerateWithTier(cmd.Context(), s.Context().Messages())
		reply, tier, err := bot.Compose(result.Text)

		fmt.Fprintf(out, "== %s: %s\n", s.Name, s.Description)
		fmt.Fprintf(out, "prompt (%s): %s\n", result.Tier, result.Text)
		if err == nil {
			err = bot.VerifyReply(result.Text, reply)
		}
		if err != nil {
			failures++
			fmt.Fprintf(out, "FAIL: %v\n\n", err)
			continue
		}
		fmt.Fprintf(out, "reply (%s, %d/%d):\n%s\nOK\n\n", tier, len([]rune(reply)), bot.MaxTweetLength, reply)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failures, len(scenarios))
	}
	return nil
}

// scenarioGenerator uses the configured AI provider when credentials are
// present and the static pool otherwise
func scenarioGenerator(ctx context.Context, logger *slog.Logger) *service.PromptGenerator {
	ai, err := config.LoadAI()
	if err != nil {
		logger.Warn("AI configuration invalid, using static prompts", "error", err)
		return service.NewPromptGenerator(logger, nil)
	}
	if ai.Provider == config.AIProviderGemini && ai.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, using static prompts")
		return service.NewPromptGenerator(logger, nil)
	}

	provider, err := newTextGenerator(ctx, logger, ai, nil)
	if err != nil {
		logger.Warn("AI provider unavailable, using static prompts", "error", err)
		return service.NewPromptGenerator(logger, nil)
	}
	return service.NewPromptGenerator(logger, provider)
}

func logLevelFromEnv() slog.Level {
	level, err := config.ParseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func runCheckEnv(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Required:")
	missing := 0
	for _, key := range config.RequiredKeys() {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			missing++
			fmt.Fprintf(out, "  MISSING  %s\n", key)
			continue
		}
		if key == "BOT_USERNAME" {
			fmt.Fprintf(out, "  OK       %s = %s\n", key, value)
			continue
		}
		fmt.Fprintf(out, "  OK       %s = %s\n", key, config.MaskSecret(value))
	}

	fmt.Fprintln(out, "Optional:")
	for _, key := range []string{"POLL_INTERVAL_MINUTES", "MAX_THREAD_LENGTH", "AI_PROVIDER", "LEDGER_BACKEND", "PORT", "DISCORD_WEBHOOK_URL", "LOG_LEVEL"} {
		value := os.Getenv(key)
		switch {
		case value == "":
			value = "(default)"
		case key == "DISCORD_WEBHOOK_URL":
			value = config.MaskSecret(value)
		}
		fmt.Fprintf(out, "  %-22s %s\n", key, value)
	}

	if missing > 0 {
		fmt.Fprintf(out, "%d required value(s) missing\n", missing)
		return errMissingConfig
	}
	fmt.Fprintln(out, "All required values are set")
	return nil
}

// withLedger opens only the ledger for maintenance commands
func withLedger(cmd *cobra.Command, fn func(l *ledger.Ledger) error) error {
	cfg, err := config.LoadLedger()
	if err != nil {
		return err
	}

	logger := newLogger(logLevelFromEnv())
	l, store, err := openLedger(cmd.Context(), logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing ledger store", "error", err)
		}
	}()

	return fn(l)
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withLedger(cmd, func(l *ledger.Ledger) error {
		stats, err := l.Stats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Total replies: %d\n", stats.Total)
		fmt.Fprintf(out, "Today:         %d\n", stats.Today)
		fmt.Fprintf(out, "Last 24h:      %d\n", stats.Last24h)
		fmt.Fprintf(out, "First reply:   %s\n", formatOptionalTime(stats.First))
		fmt.Fprintf(out, "Last reply:    %s\n", formatOptionalTime(stats.Last))
		return nil
	})
}

func newCleanupCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove ledger records older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(l *ledger.Ledger) error {
				removed, err := l.CleanupOlderThan(cmd.Context(), days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s) older than %d day(s)\n", removed, days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Maximum record age in days")

	return cmd
}

func newRecentCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent ledger records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(l *ledger.Ledger) error {
				records, err := l.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No replies recorded yet")
					return nil
				}
				for _, r := range records {
					replyID := "-"
					if r.ReplyID != nil {
						replyID = *r.ReplyID
					}
					fmt.Fprintf(out, "%s  tweet %s  reply %s\n", r.Timestamp.Local().Format(time.DateTime), r.TweetID, replyID)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of records to show")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	return withLedger(cmd, func(l *ledger.Ledger) error {
		doc, err := l.Export(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	})
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
