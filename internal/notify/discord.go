// Package notify sends operator notifications to a Discord webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"rosebud-x-bot/internal/bot"
)

// discordMessageLimit is Discord's maximum message length
const discordMessageLimit = 2000

// webhookExecutor is the part of discordgo.Session used here
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts bot events to a Discord channel webhook. It
// implements bot.Notifier; delivery errors are logged and dropped.
type DiscordNotifier struct {
	logger    *slog.Logger
	session   webhookExecutor
	webhookID string
	token     string
	username  string
}

var _ bot.Notifier = (*DiscordNotifier)(nil)

// ParseWebhookURL extracts the webhook ID and token from a Discord webhook URL
func ParseWebhookURL(raw string) (string, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("invalid webhook url: %w", err)
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid webhook url: expected .../webhooks/{id}/{token}")
}

// NewDiscordNotifier creates a notifier for webhookURL
func NewDiscordNotifier(logger *slog.Logger, webhookURL, botUsername string) (*DiscordNotifier, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}

	// Webhook execution authenticates with the URL token, not a bot token
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	return newDiscordNotifier(logger, session, id, token, botUsername), nil
}

func newDiscordNotifier(logger *slog.Logger, session webhookExecutor, id, token, botUsername string) *DiscordNotifier {
	return &DiscordNotifier{
		logger:    logger,
		session:   session,
		webhookID: id,
		token:     token,
		username:  botUsername,
	}
}

// ReplyPosted reports a reply that was published
func (n *DiscordNotifier) ReplyPosted(ctx context.Context, mention bot.Post, replyID, text string) {
	content := fmt.Sprintf("🎮 Replied to @%s\nhttps://x.com/%s/status/%s\n>>> %s",
		mention.AuthorUsername, n.username, replyID, text)
	n.send(ctx, content)
}

// AuthFailed reports that X rejected the bot's credentials
func (n *DiscordNotifier) AuthFailed(ctx context.Context, err error) {
	content := fmt.Sprintf("🚫 X rejected a request from @%s at %s: %v\nCheck the app has Read and Write permissions and regenerate the access token.",
		n.username, time.Now().UTC().Format(time.RFC3339), err)
	n.send(ctx, content)
}

func (n *DiscordNotifier) send(ctx context.Context, content string) {
	if runes := []rune(content); len(runes) > discordMessageLimit {
		content = string(runes[:discordMessageLimit-3]) + "..."
	}

	_, err := n.session.WebhookExecute(n.webhookID, n.token, false, &discordgo.WebhookParams{
		Content:  content,
		Username: "rosebud-x-bot",
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		n.logger.Warn("Failed to send Discord notification", "error", err)
		return
	}
	n.logger.Debug("Discord notification sent", "content_length", len(content))
}
