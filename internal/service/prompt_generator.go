package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"rosebud-x-bot/internal/text"
)

const (
	// MaxContextLength caps the rendered thread sent to the model, in runes
	MaxContextLength = 1800

	// MaxPromptLength caps a generated prompt so the link still fits in a reply
	MaxPromptLength = 200

	keywordCount = 5
)

// Tier identifies which stage of the fallback chain produced a prompt
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
	TierStatic    Tier = "static"
)

// ThreadMessage is one post of the conversation as seen by the generator
type ThreadMessage struct {
	Username string
	Text     string
}

// GenerationResult is a generated prompt and the tier that produced it
type GenerationResult struct {
	Text string
	Tier Tier
}

// PromptGenerator turns a conversation into a game prompt. Provider failures
// fall through to a keyword-based retry and finally to a static pool, so a
// prompt is always returned.
type PromptGenerator struct {
	generator TextGenerator
	logger    *slog.Logger
	pick      func(n int) int
}

// NewPromptGenerator creates a generator backed by provider. A nil provider
// always answers from the static pool.
func NewPromptGenerator(logger *slog.Logger, provider TextGenerator) *PromptGenerator {
	return &PromptGenerator{
		generator: provider,
		logger:    logger,
		pick:      rand.IntN,
	}
}

// Generate returns a non-empty prompt for thread
func (p *PromptGenerator) Generate(ctx context.Context, thread []ThreadMessage) string {
	return p.GenerateWithTier(ctx, thread).Text
}

// GenerateWithTier returns a non-empty prompt and the tier that produced it
func (p *PromptGenerator) GenerateWithTier(ctx context.Context, thread []ThreadMessage) GenerationResult {
	rendered := RenderThread(thread, MaxContextLength)
	primaryPrompt := contextFreeInstruction
	if rendered != "" {
		primaryPrompt = "Conversation:\n" + rendered + "\n\nWrite one game idea inspired by this conversation."
	}

	result, err := p.attempt(ctx, primaryPrompt)
	if err == nil {
		return GenerationResult{Text: result, Tier: TierPrimary}
	}
	p.logger.Warn("Primary prompt generation failed, trying keyword fallback",
		"messages", len(thread),
		"error", err)

	keywords := text.ExtractKeywords(rawThreadText(thread), keywordCount)
	result, err = p.attempt(ctx, keywordInstruction(keywords))
	if err == nil {
		return GenerationResult{Text: result, Tier: TierSecondary}
	}
	p.logger.Warn("Keyword prompt generation failed, using static prompt",
		"keywords", strings.Join(keywords, ","),
		"error", err)

	return GenerationResult{Text: p.staticPrompt(), Tier: TierStatic}
}

// attempt runs one provider call. Panics count as failures.
func (p *PromptGenerator) attempt(ctx context.Context, prompt string) (result string, err error) {
	if p.generator == nil {
		return "", fmt.Errorf("no text generator configured")
	}

	defer func() {
		if r := recover(); r != nil {
			result = ""
			err = fmt.Errorf("text generator panicked: %v", r)
		}
	}()

	raw, err := p.generator.Generate(ctx, SystemInstruction, prompt)
	if err != nil {
		return "", err
	}

	cleaned := cleanGenerated(raw)
	if cleaned == "" {
		return "", ErrEmptyResponse
	}

	return text.Truncate(cleaned, MaxPromptLength), nil
}

func (p *PromptGenerator) staticPrompt() string {
	return staticPrompts[p.pick(len(staticPrompts))]
}

// RenderThread formats messages as "{author}: {normalized text}" lines and
// caps the block at budget runes. Low-signal posts are dropped unless that
// would leave nothing.
func RenderThread(thread []ThreadMessage, budget int) string {
	selected := make([]ThreadMessage, 0, len(thread))
	for _, msg := range thread {
		if !text.IsLowSignal(msg.Text) {
			selected = append(selected, msg)
		}
	}
	if len(selected) == 0 {
		selected = thread
	}

	lines := make([]string, 0, len(selected))
	for _, msg := range selected {
		normalized := text.Normalize(msg.Text)
		if normalized == "" {
			continue
		}
		author := msg.Username
		if author == "" {
			author = "unknown"
		}
		lines = append(lines, author+": "+normalized)
	}

	rendered := strings.Join(lines, "\n")
	if runes := []rune(rendered); len(runes) > budget {
		rendered = string(runes[:budget])
	}
	return rendered
}

func rawThreadText(thread []ThreadMessage) string {
	texts := make([]string, 0, len(thread))
	for _, msg := range thread {
		texts = append(texts, msg.Text)
	}
	return strings.Join(texts, " ")
}

func keywordInstruction(keywords []string) string {
	if len(keywords) == 0 {
		return contextFreeInstruction
	}
	return "Invent an original, fun game idea inspired by these words: " + strings.Join(keywords, ", ") + "."
}

// cleanGenerated trims whitespace and wrapping quotes from model output
func cleanGenerated(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.Trim(cleaned, "\"“”")
	return strings.TrimSpace(cleaned)
}
