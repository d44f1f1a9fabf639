package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

const (
	// EscalationStream holds escalation requests until a responder consumes them
	EscalationStream = "ESCALATIONS"

	escalationSubjectPrefix = "escalation."
)

// Escalator hands off a route that failed on every channel
type Escalator interface {
	Escalate(ctx context.Context, req model.EscalationRequest) error
}

// EscalationSubject returns the subject for a priority
func EscalationSubject(p model.Priority) string {
	return escalationSubjectPrefix + string(p)
}

// JetStreamEscalator publishes escalation requests to the ESCALATIONS stream
type JetStreamEscalator struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	once   sync.Once
	err    error
}

// NewJetStreamEscalator creates an escalator
func NewJetStreamEscalator(js nats.JetStreamContext, logger *zap.Logger) *JetStreamEscalator {
	return &JetStreamEscalator{
		logger: logger.Named("escalator"),
		js:     js,
	}
}

// EnsureStream creates the escalation stream when it does not exist
func (e *JetStreamEscalator) EnsureStream() error {
	e.once.Do(func() {
		stream, err := e.js.StreamInfo(EscalationStream)
		if err != nil && err != nats.ErrStreamNotFound {
			e.err = fmt.Errorf("failed to get stream info: %w", err)
			return
		}
		if stream != nil {
			return
		}
		if _, err := e.js.AddStream(&nats.StreamConfig{
			Name:     EscalationStream,
			Subjects: []string{escalationSubjectPrefix + "*"},
			Storage:  nats.FileStorage,
		}); err != nil {
			e.err = fmt.Errorf("failed to create escalation stream: %w", err)
		}
	})
	return e.err
}

// Escalate implements Escalator
func (e *JetStreamEscalator) Escalate(ctx context.Context, req model.EscalationRequest) error {
	if err := e.EnsureStream(); err != nil {
		return err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation: %w", err)
	}

	subject := EscalationSubject(req.Priority)
	if _, err := e.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(req.ID)); err != nil {
		return fmt.Errorf("failed to publish escalation: %w", err)
	}

	e.logger.Info("Escalation published",
		zap.String("escalation_id", req.ID),
		zap.String("subject", subject),
		zap.String("recipient_id", req.RecipientID),
		zap.String("target_recipient_id", req.TargetRecipientID),
		zap.Time("fire_at", req.FireAt))
	return nil
}

// LogEscalator only records escalations in the log
type LogEscalator struct {
	logger *zap.Logger
}

// NewLogEscalator creates a log-only escalator
func NewLogEscalator(logger *zap.Logger) *LogEscalator {
	return &LogEscalator{logger: logger.Named("escalator")}
}

// Escalate implements Escalator
func (e *LogEscalator) Escalate(_ context.Context, req model.EscalationRequest) error {
	e.logger.Warn("Escalation required",
		zap.String("escalation_id", req.ID),
		zap.String("recipient_id", req.RecipientID),
		zap.String("target_recipient_id", req.TargetRecipientID),
		zap.Int("delay_minutes", req.DelayMinutes))
	return nil
}
