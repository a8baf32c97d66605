package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"rosebud-x-bot/internal/storage"
)

// twitterKeys are the OAuth 1.0a credentials every deployment needs
var twitterKeys = []string{
	"TWITTER_API_KEY",
	"TWITTER_API_SECRET",
	"TWITTER_ACCESS_TOKEN",
	"TWITTER_ACCESS_TOKEN_SECRET",
}

// RequiredKeys lists every key that must be set for the configured
// AI_PROVIDER. GEMINI_API_KEY is only required for the Gemini provider.
func RequiredKeys() []string {
	keys := append([]string(nil), twitterKeys...)
	if strings.ToLower(GetEnvWithDefault("AI_PROVIDER", AIProviderGemini)) == AIProviderGemini {
		keys = append(keys, "GEMINI_API_KEY")
	}
	return append(keys, "BOT_USERNAME")
}

// Ledger backends
const (
	LedgerBackendJSON   = "json"
	LedgerBackendSQLite = "sqlite"
	LedgerBackendMySQL  = "mysql"
)

// AI providers
const (
	AIProviderGemini = "gemini"
	AIProviderOllama = "ollama"
)

// TwitterConfig holds the OAuth 1.0a user-context credentials
type TwitterConfig struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
}

// AIConfig selects and configures the text generation provider
type AIConfig struct {
	Provider           string
	GeminiAPIKey       string
	GeminiModel        string
	GeminiFallbacks    []string
	OllamaHost         string
	OllamaModel        string
	OllamaTimeout      time.Duration
	RateLimitPerMinute int
	RateLimitPerDay    int
}

// LedgerConfig selects the reply ledger backend
type LedgerConfig struct {
	Backend      string
	Path         string
	DatabasePath string
	MySQL        storage.MySQLConfig
	Retention    int
	MaxAgeDays   int
}

// Config is the complete runtime configuration, read once at startup
type Config struct {
	Twitter            TwitterConfig
	AI                 AIConfig
	Ledger             LedgerConfig
	BotUsername        string
	PollInterval       time.Duration
	MaxThreadLength    int
	MentionsMaxResults int
	Port               int
	KeepAliveEnabled   bool
	DiscordWebhookURL  string
	Environment        string
	LogLevel           slog.Level
}

// LoadDotEnv loads a .env file when one exists. Values already present in
// the process environment win.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}

	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// MissingRequired lists required keys that are unset or blank
func MissingRequired() []string {
	var missing []string
	for _, key := range RequiredKeys() {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Load reads and validates the configuration from environment variables
func Load() (*Config, error) {
	if missing := MissingRequired(); len(missing) > 0 {
		return nil, NewConfigError(strings.Join(missing, ","), "required environment variables are not set", nil)
	}

	cfg := &Config{
		Twitter: TwitterConfig{
			APIKey:            os.Getenv("TWITTER_API_KEY"),
			APISecret:         os.Getenv("TWITTER_API_SECRET"),
			AccessToken:       os.Getenv("TWITTER_ACCESS_TOKEN"),
			AccessTokenSecret: os.Getenv("TWITTER_ACCESS_TOKEN_SECRET"),
		},
		BotUsername:       strings.TrimPrefix(strings.TrimSpace(os.Getenv("BOT_USERNAME")), "@"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		Environment:       GetEnvWithDefault("ENVIRONMENT", "development"),
	}

	var err error

	pollMinutes, err := GetEnvInt("POLL_INTERVAL_MINUTES", 15, 1, 24*60)
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = time.Duration(pollMinutes) * time.Minute

	if cfg.MaxThreadLength, err = GetEnvInt("MAX_THREAD_LENGTH", 20, 10, 100); err != nil {
		return nil, err
	}
	if cfg.MentionsMaxResults, err = GetEnvInt("MENTIONS_MAX_RESULTS", 10, 5, 100); err != nil {
		return nil, err
	}
	if cfg.Port, err = GetEnvInt("PORT", 3000, 1, 65535); err != nil {
		return nil, err
	}
	if cfg.KeepAliveEnabled, err = GetEnvBool("KEEPALIVE_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = ParseLogLevel(os.Getenv("LOG_LEVEL")); err != nil {
		return nil, err
	}

	if cfg.AI, err = loadAIConfig(); err != nil {
		return nil, err
	}
	if cfg.Ledger, err = loadLedgerConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadAI reads only the AI provider settings. Commands that never touch X
// use it so they work without X credentials.
func LoadAI() (AIConfig, error) {
	return loadAIConfig()
}

// LoadLedger reads only the reply ledger settings
func LoadLedger() (LedgerConfig, error) {
	return loadLedgerConfig()
}

// loadAIConfig loads provider selection and rate limits
func loadAIConfig() (AIConfig, error) {
	ai := AIConfig{
		Provider:        strings.ToLower(GetEnvWithDefault("AI_PROVIDER", AIProviderGemini)),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     GetEnvWithDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiFallbacks: GetEnvList("GEMINI_FALLBACK_MODELS", []string{"gemini-2.0-flash", "gemini-1.5-flash"}),
		OllamaHost:      GetEnvWithDefault("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:     GetEnvWithDefault("OLLAMA_MODEL", "llama3.2"),
	}

	switch ai.Provider {
	case AIProviderGemini, AIProviderOllama:
	default:
		return ai, NewConfigError("AI_PROVIDER", fmt.Sprintf("unsupported provider %q", ai.Provider), nil)
	}

	var err error
	if ai.OllamaTimeout, err = GetEnvDuration("OLLAMA_TIMEOUT", 30*time.Second); err != nil {
		return ai, err
	}
	if ai.RateLimitPerMinute, err = GetEnvInt("AI_PROVIDER_RATE_LIMIT_PER_MINUTE", 10, 1, 10000); err != nil {
		return ai, err
	}
	if ai.RateLimitPerDay, err = GetEnvInt("AI_PROVIDER_RATE_LIMIT_PER_DAY", 250, 1, 1000000); err != nil {
		return ai, err
	}
	if ai.RateLimitPerDay < ai.RateLimitPerMinute {
		return ai, NewConfigError("AI_PROVIDER_RATE_LIMIT_PER_DAY",
			fmt.Sprintf("daily limit (%d) must not be below the per-minute limit (%d)", ai.RateLimitPerDay, ai.RateLimitPerMinute), nil)
	}

	return ai, nil
}

// loadLedgerConfig loads the reply ledger backend settings
func loadLedgerConfig() (LedgerConfig, error) {
	ledger := LedgerConfig{
		Backend:      strings.ToLower(GetEnvWithDefault("LEDGER_BACKEND", LedgerBackendJSON)),
		Path:         GetEnvWithDefault("LEDGER_PATH", "data/replied-tweets.json"),
		DatabasePath: GetEnvWithDefault("DATABASE_PATH", "data/bot_state.db"),
		MySQL: storage.MySQLConfig{
			Host:     GetEnvWithDefault("MYSQL_HOST", "localhost"),
			Port:     GetEnvWithDefault("MYSQL_PORT", "3306"),
			Database: GetEnvWithDefault("MYSQL_DATABASE", "rosebud_bot"),
			Username: os.Getenv("MYSQL_USERNAME"),
			Password: os.Getenv("MYSQL_PASSWORD"),
			Timeout:  GetEnvWithDefault("MYSQL_TIMEOUT", "30s"),
		},
	}

	switch ledger.Backend {
	case LedgerBackendJSON, LedgerBackendSQLite:
	case LedgerBackendMySQL:
		if ledger.MySQL.Username == "" {
			return ledger, NewConfigError("MYSQL_USERNAME", "required when LEDGER_BACKEND=mysql", nil)
		}
	default:
		return ledger, NewConfigError("LEDGER_BACKEND", fmt.Sprintf("unsupported backend %q", ledger.Backend), nil)
	}

	var err error
	if ledger.Retention, err = GetEnvInt("LEDGER_RETENTION", 1000, 1, 1000000); err != nil {
		return ledger, err
	}
	if ledger.MaxAgeDays, err = GetEnvInt("LEDGER_MAX_AGE_DAYS", 30, 1, 3650); err != nil {
		return ledger, err
	}

	return ledger, nil
}
