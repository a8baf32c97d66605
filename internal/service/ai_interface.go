package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"rosebud-x-bot/internal/monitor"
)

// ErrEmptyResponse is returned when a provider answers with no usable text
var ErrEmptyResponse = errors.New("ai provider returned an empty response")

// ErrRateLimited is returned when the local rate limiter blocks a call
var ErrRateLimited = errors.New("ai provider rate limit exceeded")

// TextGenerator is a generative text provider. Implementations are treated as
// unreliable: any error sends the caller down its fallback chain.
type TextGenerator interface {
	// Generate returns free text for prompt, steered by systemInstruction
	Generate(ctx context.Context, systemInstruction, prompt string) (string, error)

	// GetProviderID names the provider for rate limiting and logs
	GetProviderID() string
}

// checkRateLimit blocks calls for throttled providers and warns when close
func checkRateLimit(logger *slog.Logger, rateLimiter monitor.AIProviderRateLimiter, providerID string) error {
	if rateLimiter == nil {
		return nil
	}

	status := rateLimiter.GetProviderStatus(providerID)

	if status == monitor.StatusThrottled {
		usage, limit := rateLimiter.GetProviderUsage(providerID)
		logger.Warn("Rate limit exceeded for provider",
			"provider", providerID,
			"status", status,
			"usage", usage,
			"limit", limit)
		return fmt.Errorf("%w: %s at %d/%d requests", ErrRateLimited, providerID, usage, limit)
	}

	if status == monitor.StatusWarning {
		usage, limit := rateLimiter.GetProviderUsage(providerID)
		logger.Warn("Rate limit warning for provider",
			"provider", providerID,
			"status", status,
			"usage", usage,
			"limit", limit)
	}

	return nil
}

// registerCall records a call with the rate limiter, logging failures
func registerCall(logger *slog.Logger, rateLimiter monitor.AIProviderRateLimiter, providerID string) {
	if rateLimiter == nil {
		return
	}
	if err := rateLimiter.RegisterCall(providerID); err != nil {
		logger.Warn("Failed to register API call with rate limiter",
			"provider", providerID,
			"error", err)
	}
}
