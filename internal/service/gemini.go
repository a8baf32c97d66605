package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"rosebud-x-bot/internal/monitor"
)

// contentGenerator is the subset of *genai.Models used by GeminiService
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiService implements TextGenerator using the Gemini API. Models are
// tried in order; quota and not-found errors move on to the next model.
type GeminiService struct {
	models      contentGenerator
	modelNames  []string
	temperature float32
	logger      *slog.Logger
	rateLimiter monitor.AIProviderRateLimiter
}

// NewGeminiService creates a Gemini client for apiKey. fallbacks are tried
// after model when it is exhausted or unavailable.
func NewGeminiService(ctx context.Context, logger *slog.Logger, apiKey, model string, fallbacks []string) (*GeminiService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newGeminiService(logger, client.Models, append([]string{model}, fallbacks...)), nil
}

func newGeminiService(logger *slog.Logger, models contentGenerator, modelNames []string) *GeminiService {
	seen := make(map[string]bool)
	var names []string
	for _, name := range modelNames {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	return &GeminiService{
		models:      models,
		modelNames:  names,
		temperature: 0.9,
		logger:      logger,
	}
}

// SetRateLimiter sets the rate limiter for this service
func (g *GeminiService) SetRateLimiter(rateLimiter monitor.AIProviderRateLimiter) {
	g.rateLimiter = rateLimiter
}

// GetProviderID returns the unique identifier for this AI provider
func (g *GeminiService) GetProviderID() string {
	return "gemini"
}

// Models returns the model names in the order they are tried
func (g *GeminiService) Models() []string {
	return append([]string(nil), g.modelNames...)
}

// Generate asks Gemini for text, walking the model fallback list
func (g *GeminiService) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	if err := checkRateLimit(g.logger, g.rateLimiter, g.GetProviderID()); err != nil {
		return "", err
	}

	temperature := g.temperature
	config := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	var lastErr error
	for _, model := range g.modelNames {
		registerCall(g.logger, g.rateLimiter, g.GetProviderID())

		result, err := g.models.GenerateContent(ctx, model, genai.Text(prompt), config)
		if err != nil {
			if isModelUnavailable(err) {
				g.logger.Warn("Gemini model unavailable, trying next",
					"model", model,
					"error", err)
				lastErr = err
				continue
			}
			return "", fmt.Errorf("gemini %s: %w", model, err)
		}

		text := strings.TrimSpace(responseText(result))
		if text == "" {
			g.logger.Warn("Gemini returned empty response", "model", model)
			lastErr = ErrEmptyResponse
			continue
		}

		g.logger.Debug("Gemini response received",
			"model", model,
			"response_length", len(text))
		return text, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no Gemini models configured")
	}
	return "", fmt.Errorf("all Gemini models failed: %w", lastErr)
}

// isModelUnavailable reports quota and missing-model errors that justify
// trying the next model
func isModelUnavailable(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "exhausted", "404", "not found"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// responseText joins the non-thought text parts of the first candidate
func responseText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	content := result.Candidates[0].Content
	if content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
