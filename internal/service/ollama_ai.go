package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"rosebud-x-bot/internal/monitor"
)

const (
	ollamaProviderID     = "ollama"
	ollamaGeneratePath   = "/api/generate"
	ollamaDefaultTimeout = 30 * time.Second
	ollamaTemperature    = 0.9

	// ollamaMaxTokens bounds the answer; ideas are clamped to a few hundred
	// runes afterwards anyway
	ollamaMaxTokens = 160
)

// ollamaOptions are the sampling options sent with each request
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaGenerateRequest is the body of POST /api/generate
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

// ollamaGenerateResponse is a non-streaming /api/generate answer
type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// OllamaService implements TextGenerator using a self-hosted Ollama server
type OllamaService struct {
	client      *http.Client
	endpoint    string
	modelName   string
	timeout     time.Duration
	logger      *slog.Logger
	rateLimiter monitor.AIProviderRateLimiter
}

// NewOllamaService creates an Ollama text generator for the server at baseURL.
// A non-positive timeout uses 30 seconds.
func NewOllamaService(logger *slog.Logger, baseURL, modelName string, timeout time.Duration) *OllamaService {
	if timeout <= 0 {
		timeout = ollamaDefaultTimeout
	}

	return &OllamaService{
		client:    &http.Client{Timeout: timeout},
		endpoint:  strings.TrimRight(baseURL, "/") + ollamaGeneratePath,
		modelName: modelName,
		timeout:   timeout,
		logger:    logger,
	}
}

// SetRateLimiter sets the rate limiter for this service
func (o *OllamaService) SetRateLimiter(rateLimiter monitor.AIProviderRateLimiter) {
	o.rateLimiter = rateLimiter
}

// GetProviderID returns the unique identifier for this AI provider
func (o *OllamaService) GetProviderID() string {
	return ollamaProviderID
}

// Generate asks the model for a single non-streamed completion
func (o *OllamaService) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	if err := checkRateLimit(o.logger, o.rateLimiter, ollamaProviderID); err != nil {
		return "", err
	}
	registerCall(o.logger, o.rateLimiter, ollamaProviderID)

	answer, err := o.post(ctx, ollamaGenerateRequest{
		Model:   o.modelName,
		Prompt:  prompt,
		System:  systemInstruction,
		Options: &ollamaOptions{Temperature: ollamaTemperature, NumPredict: ollamaMaxTokens},
	})
	if err != nil {
		o.logger.Error("Ollama generation failed",
			"provider", ollamaProviderID,
			"model", o.modelName,
			"error", err)
		return "", err
	}

	text := unescapeText(strings.TrimSpace(answer.Response))
	if text == "" {
		o.logger.Warn("Ollama returned an empty response", "provider", ollamaProviderID, "model", o.modelName)
		return "", ErrEmptyResponse
	}

	o.logger.Debug("Ollama response received",
		"provider", ollamaProviderID,
		"model", o.modelName,
		"response_length", len(text))

	return text, nil
}

// post sends body to the generate endpoint and decodes the answer
func (o *OllamaService) post(ctx context.Context, body ollamaGenerateRequest) (*ollamaGenerateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("ollama request timed out after %v: %w", o.timeout, err)
		}
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, o.statusError(resp.StatusCode, raw)
	}

	var answer ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if answer.Error != "" {
		return nil, fmt.Errorf("ollama API error: %s", answer.Error)
	}

	return &answer, nil
}

// statusError describes a non-200 answer, naming a missing model explicitly
func (o *OllamaService) statusError(status int, raw []byte) error {
	var answer ollamaGenerateResponse
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &answer) == nil && answer.Error != "" {
		message = answer.Error
	}

	if status == http.StatusNotFound && strings.Contains(message, "not found") {
		return fmt.Errorf("model '%s' not found on Ollama server", o.modelName)
	}
	return fmt.Errorf("ollama API returned status %d: %s", status, message)
}

// escapeReplacer undoes literal escape sequences some models emit. Pairs are
// matched left to right so an escaped backslash is never re-read.
var escapeReplacer = strings.NewReplacer(
	`\\`, `\`,
	`\n`, "\n",
	`\t`, "\t",
	`\r`, "\r",
	`\"`, `"`,
	`\'`, `'`,
)

func unescapeText(text string) string {
	return escapeReplacer.Replace(text)
}
