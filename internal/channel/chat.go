package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

// Chat webhook formats
const (
	FormatSlack   = "slack"
	FormatDiscord = "discord"
)

// Discord limits and embed colours
const (
	discordMaxMessageLength = 2000
	discordMaxEmbedLength   = 4096

	colorRed    = 15158332
	colorOrange = 15105570
	colorYellow = 16776960
	colorBlue   = 3447003
)

// ChatConfig holds webhook settings
type ChatConfig struct {
	ProviderID string
	Enabled    bool
	WebhookURL string
	Format     string
}

// ChatAdapter posts alerts to a Slack or Discord incoming webhook.
// A recipient contact that is itself a webhook URL overrides the default.
type ChatAdapter struct {
	base
	cfg    ChatConfig
	sender *HTTPSender
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type slackPayload struct {
	Text string `json:"text"`
}

// NewChatAdapter creates a chat adapter
func NewChatAdapter(cfg ChatConfig, sender *HTTPSender, logger *zap.Logger) *ChatAdapter {
	if cfg.Format == "" {
		cfg.Format = FormatSlack
	}
	if sender == nil {
		sender = NewHTTPSender(string(model.ChannelChat), nil, DefaultBreakerConfig(), logger)
	}
	return &ChatAdapter{
		base:   newBase(logger, model.ChannelChat, cfg.ProviderID, cfg.Enabled && cfg.WebhookURL != ""),
		cfg:    cfg,
		sender: sender,
	}
}

// Send posts the message, mentioning the recipient's chat handle
func (a *ChatAdapter) Send(ctx context.Context, message string, recipient model.RecipientProfile, metadata map[string]string) model.DeliveryResult {
	handle := recipient.Contact(model.ChannelChat)
	if handle == "" {
		return a.result(recipient, "", ErrNoContact)
	}

	url := a.cfg.WebhookURL
	if strings.HasPrefix(handle, "https://") {
		url = handle
		handle = recipient.Name
	}

	var payload interface{}
	switch a.cfg.Format {
	case FormatDiscord:
		payload = discordMessage(handle, message, metadata[MetaPriority])
	default:
		payload = slackPayload{Text: fmt.Sprintf("%s %s", mention(handle), message)}
	}

	body, err := a.sender.PostJSON(ctx, url, nil, payload)
	if err != nil {
		return a.result(recipient, "", fmt.Errorf("chat webhook: %w", err))
	}
	return a.result(recipient, messageIDFrom(body), nil)
}

func discordMessage(handle, message, priority string) discordPayload {
	content := fmt.Sprintf("%s crisis alert", mention(handle))
	if len([]rune(content)) > discordMaxMessageLength {
		content = truncate(content, discordMaxMessageLength)
	}
	return discordPayload{
		Content: content,
		Embeds: []discordEmbed{{
			Title:       strings.ToUpper(priority) + " priority",
			Description: truncate(message, discordMaxEmbedLength),
			Color:       priorityColor(model.Priority(priority)),
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
}

func priorityColor(p model.Priority) int {
	switch p {
	case model.PriorityCritical:
		return colorRed
	case model.PriorityHigh:
		return colorOrange
	case model.PriorityMedium:
		return colorYellow
	default:
		return colorBlue
	}
}

func mention(handle string) string {
	if strings.HasPrefix(handle, "@") || strings.HasPrefix(handle, "<") {
		return handle
	}
	return "@" + handle
}
