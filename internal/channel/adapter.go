package channel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

// Metadata keys understood by adapters
const (
	MetaPriority   = "priority"
	MetaSeverity   = "severity"
	MetaThreatType = "threat_type"
	MetaSubject    = "subject"
)

// Adapter sends a message to a recipient over one delivery medium.
// Send never returns a Go error; failures are reported in the result.
type Adapter interface {
	Channel() model.Channel
	ProviderID() string
	IsAvailable() bool
	Send(ctx context.Context, message string, recipient model.RecipientProfile, metadata map[string]string) model.DeliveryResult
}

// base carries the fields shared by every adapter
type base struct {
	logger     *zap.Logger
	channel    model.Channel
	providerID string
	enabled    bool
}

func newBase(logger *zap.Logger, ch model.Channel, providerID string, enabled bool) base {
	if providerID == "" {
		providerID = string(ch)
	}
	return base{
		logger:     logger.Named(string(ch) + "-channel"),
		channel:    ch,
		providerID: providerID,
		enabled:    enabled,
	}
}

func (b base) Channel() model.Channel { return b.channel }
func (b base) ProviderID() string     { return b.providerID }
func (b base) IsAvailable() bool      { return b.enabled }

// result builds a DeliveryResult; an empty messageID on success gets a generated one
func (b base) result(recipient model.RecipientProfile, messageID string, err error) model.DeliveryResult {
	res := model.DeliveryResult{
		Success:     err == nil,
		Channel:     b.channel,
		RecipientID: recipient.ID,
		Timestamp:   time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
		b.logger.Warn("Channel send failed",
			zap.String("recipient_id", recipient.ID),
			zap.String("provider_id", b.providerID),
			zap.Error(err))
		return res
	}
	if messageID == "" {
		messageID = uuid.New().String()
	}
	res.MessageID = messageID
	b.logger.Debug("Channel send succeeded",
		zap.String("recipient_id", recipient.ID),
		zap.String("message_id", messageID))
	return res
}
