package channel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

// ProviderConfig holds settings for an HTTP messaging provider
type ProviderConfig struct {
	ProviderID string
	Enabled    bool
	APIURL     string
	APIKey     string
}

// providerAdapter posts {to, message, priority} to a generic provider API.
// SMS and voice share it and differ only in channel and payload shaping.
type providerAdapter struct {
	base
	cfg    ProviderConfig
	sender *HTTPSender
	shape  func(to, message string, metadata map[string]string) map[string]interface{}
}

// SMSAdapter sends text messages through an HTTP provider
type SMSAdapter struct{ providerAdapter }

// VoiceAdapter places text-to-speech calls through an HTTP provider
type VoiceAdapter struct{ providerAdapter }

const maxSMSLength = 480

// NewSMSAdapter creates an SMS adapter
func NewSMSAdapter(cfg ProviderConfig, sender *HTTPSender, logger *zap.Logger) *SMSAdapter {
	return &SMSAdapter{newProviderAdapter(model.ChannelSMS, cfg, sender, logger,
		func(to, message string, metadata map[string]string) map[string]interface{} {
			return map[string]interface{}{
				"to":       to,
				"message":  truncate(message, maxSMSLength),
				"priority": metadata[MetaPriority],
			}
		})}
}

// NewVoiceAdapter creates a voice adapter
func NewVoiceAdapter(cfg ProviderConfig, sender *HTTPSender, logger *zap.Logger) *VoiceAdapter {
	return &VoiceAdapter{newProviderAdapter(model.ChannelVoice, cfg, sender, logger,
		func(to, message string, metadata map[string]string) map[string]interface{} {
			return map[string]interface{}{
				"to":       to,
				"say":      message,
				"priority": metadata[MetaPriority],
				"repeat":   2,
			}
		})}
}

func newProviderAdapter(ch model.Channel, cfg ProviderConfig, sender *HTTPSender, logger *zap.Logger,
	shape func(string, string, map[string]string) map[string]interface{}) providerAdapter {
	if sender == nil {
		sender = NewHTTPSender(string(ch), nil, DefaultBreakerConfig(), logger)
	}
	return providerAdapter{
		base:   newBase(logger, ch, cfg.ProviderID, cfg.Enabled && cfg.APIURL != ""),
		cfg:    cfg,
		sender: sender,
		shape:  shape,
	}
}

func (a *providerAdapter) Send(ctx context.Context, message string, recipient model.RecipientProfile, metadata map[string]string) model.DeliveryResult {
	to := recipient.Contact(a.channel)
	if to == "" {
		return a.result(recipient, "", ErrNoContact)
	}

	headers := map[string]string{}
	if a.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + a.cfg.APIKey
	}

	body, err := a.sender.PostJSON(ctx, a.cfg.APIURL, headers, a.shape(to, message, metadata))
	if err != nil {
		return a.result(recipient, "", fmt.Errorf("%s provider: %w", a.channel, err))
	}
	return a.result(recipient, messageIDFrom(body), nil)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
