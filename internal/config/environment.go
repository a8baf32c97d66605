package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt reads an integer and checks it against [minValue, maxValue]
func GetEnvInt(key string, defaultValue, minValue, maxValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, NewConfigError(key, "invalid integer value", err)
	}
	if value < minValue || value > maxValue {
		return 0, NewConfigError(key, fmt.Sprintf("must be between %d and %d, got %d", minValue, maxValue, value), nil)
	}

	return value, nil
}

// GetEnvBool parses boolean values flexibly
func GetEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on", "enabled":
		return true, nil
	case "false", "0", "no", "off", "disabled":
		return false, nil
	default:
		return false, NewConfigError(key, "invalid boolean value", nil)
	}
}

// GetEnvDuration reads a Go duration string such as "30s"
func GetEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	duration, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, NewConfigError(key, "invalid duration value", err)
	}
	if duration <= 0 {
		return 0, NewConfigError(key, "duration must be positive", nil)
	}

	return duration, nil
}

// GetEnvList splits a comma separated value, dropping empty entries
func GetEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

// ParseLogLevel maps LOG_LEVEL names onto slog levels
func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, NewConfigError("LOG_LEVEL", fmt.Sprintf("unknown level %q", raw), nil)
	}
}

// MaskSecret keeps the first few characters of a secret for display
func MaskSecret(value string) string {
	const visible = 10
	runes := []rune(value)
	if len(runes) <= visible {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:visible]) + "..."
}
