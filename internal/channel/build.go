package channel

import (
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/config"
	"github.com/t77yq/crisiswatch/internal/model"
)

// BuildRegistry creates one adapter per configured channel. Providers shared by
// several channels share a single HTTP sender, and with it a circuit breaker.
func BuildRegistry(channels map[model.Channel]config.ChannelConfig, logger *zap.Logger) *Registry {
	reg := NewRegistry()
	senders := make(map[string]*HTTPSender)
	senderFor := func(providerID string) *HTTPSender {
		if s, ok := senders[providerID]; ok {
			return s
		}
		s := NewHTTPSender(providerID, nil, DefaultBreakerConfig(), logger)
		senders[providerID] = s
		reg.AttachSender(providerID, s)
		return s
	}

	for _, ch := range model.AllChannels {
		cc := channels[ch]
		if cc.ProviderID == "" {
			cc.ProviderID = string(ch)
		}

		switch ch {
		case model.ChannelEmail:
			reg.Register(NewEmailAdapter(EmailConfig{
				ProviderID: cc.ProviderID,
				Enabled:    cc.Enabled,
				Host:       cc.SMTPHost,
				Port:       cc.SMTPPort,
				Username:   cc.Username,
				Password:   cc.Password,
				From:       cc.From,
			}, nil, logger))
		case model.ChannelSMS:
			reg.Register(NewSMSAdapter(providerConfig(cc), senderFor(cc.ProviderID), logger))
		case model.ChannelVoice:
			reg.Register(NewVoiceAdapter(providerConfig(cc), senderFor(cc.ProviderID), logger))
		case model.ChannelChat:
			reg.Register(NewChatAdapter(ChatConfig{
				ProviderID: cc.ProviderID,
				Enabled:    cc.Enabled,
				WebhookURL: cc.WebhookURL,
				Format:     cc.Format,
			}, senderFor(cc.ProviderID), logger))
		}
	}

	logger.Info("Channel registry built", zap.Any("available", reg.Available()))
	return reg
}

func providerConfig(cc config.ChannelConfig) ProviderConfig {
	return ProviderConfig{
		ProviderID: cc.ProviderID,
		Enabled:    cc.Enabled,
		APIURL:     cc.APIURL,
		APIKey:     cc.APIKey,
	}
}
