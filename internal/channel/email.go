package channel

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/model"
)

// ErrNoContact is reported when the recipient has no address for the channel
var ErrNoContact = errors.New("recipient has no contact for channel")

// SendMailFunc matches smtp.SendMail
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailConfig holds SMTP settings
type EmailConfig struct {
	ProviderID string
	Enabled    bool
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
}

// EmailAdapter delivers alerts over SMTP
type EmailAdapter struct {
	base
	cfg      EmailConfig
	sendMail SendMailFunc
}

// NewEmailAdapter creates an email adapter. A nil sendMail uses smtp.SendMail.
func NewEmailAdapter(cfg EmailConfig, sendMail SendMailFunc, logger *zap.Logger) *EmailAdapter {
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	return &EmailAdapter{
		base:     newBase(logger, model.ChannelEmail, cfg.ProviderID, cfg.Enabled && cfg.Host != ""),
		cfg:      cfg,
		sendMail: sendMail,
	}
}

// Send emails the message to the recipient
func (a *EmailAdapter) Send(ctx context.Context, message string, recipient model.RecipientProfile, metadata map[string]string) model.DeliveryResult {
	to := recipient.Contact(model.ChannelEmail)
	if to == "" {
		return a.result(recipient, "", ErrNoContact)
	}

	messageID := uuid.New().String()
	subject := metadata[MetaSubject]
	if subject == "" {
		subject = fmt.Sprintf("[%s] Crisis alert", strings.ToUpper(metadataOr(metadata, MetaPriority, "alert")))
	}

	var auth smtp.Auth
	if a.cfg.Username != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	body := buildEmail(a.cfg.From, to, subject, messageID, message)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.sendMail(addr, auth, a.cfg.From, []string{to}, body)
	}()

	select {
	case <-ctx.Done():
		return a.result(recipient, "", ctx.Err())
	case err := <-errCh:
		if err != nil {
			return a.result(recipient, "", fmt.Errorf("failed to send email: %w", err))
		}
		return a.result(recipient, messageID, nil)
	}
}

func buildEmail(from, to, subject, messageID, body string) []byte {
	headers := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"Message-ID: <" + messageID + "@crisiswatch>",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}

func metadataOr(metadata map[string]string, key, fallback string) string {
	if v := metadata[key]; v != "" {
		return v
	}
	return fallback
}
