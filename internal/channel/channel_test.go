package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/crisiswatch/internal/config"
	"github.com/t77yq/crisiswatch/internal/model"
)

var testRecipient = model.RecipientProfile{
	ID:   "r1",
	Name: "Ana",
	Role: "press_secretary",
	Contacts: map[model.Channel]string{
		model.ChannelEmail: "ana@example.org",
		model.ChannelSMS:   "+15550001",
		model.ChannelVoice: "+15550001",
		model.ChannelChat:  "ana",
	},
}

func TestEmailAdapter_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	send := func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	a := NewEmailAdapter(EmailConfig{Enabled: true, Host: "smtp.example.org", Port: 587, From: "alerts@example.org"}, send, zaptest.NewLogger(t))
	assert.True(t, a.IsAvailable())
	assert.Equal(t, "email", a.ProviderID())

	res := a.Send(context.Background(), "body text", testRecipient, map[string]string{MetaPriority: "high"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, model.ChannelEmail, res.Channel)
	assert.Equal(t, "r1", res.RecipientID)
	assert.NotEmpty(t, res.MessageID)
	assert.Equal(t, "smtp.example.org:587", gotAddr)
	assert.Equal(t, "alerts@example.org", gotFrom)
	assert.Equal(t, []string{"ana@example.org"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [HIGH] Crisis alert")
	assert.True(t, strings.HasSuffix(string(gotMsg), "\r\n\r\nbody text"))
}

func TestEmailAdapter_Failures(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("smtp error", func(t *testing.T) {
		a := NewEmailAdapter(EmailConfig{Enabled: true, Host: "h", Port: 25}, func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("454 relay denied")
		}, logger)
		res := a.Send(context.Background(), "m", testRecipient, nil)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "relay denied")
		assert.Empty(t, res.MessageID)
	})

	t.Run("no contact", func(t *testing.T) {
		a := NewEmailAdapter(EmailConfig{Enabled: true, Host: "h"}, func(string, smtp.Auth, string, []string, []byte) error {
			t.Fatal("must not send")
			return nil
		}, logger)
		res := a.Send(context.Background(), "m", model.RecipientProfile{ID: "x"}, nil)
		assert.False(t, res.Success)
		assert.Equal(t, ErrNoContact.Error(), res.Error)
	})

	t.Run("context deadline", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		a := NewEmailAdapter(EmailConfig{Enabled: true, Host: "h"}, func(string, smtp.Auth, string, []string, []byte) error {
			<-block
			return nil
		}, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		res := a.Send(ctx, "m", testRecipient, nil)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "deadline")
	})

	t.Run("unconfigured is unavailable", func(t *testing.T) {
		a := NewEmailAdapter(EmailConfig{Enabled: true}, nil, logger)
		assert.False(t, a.IsAvailable())
	})
}

func TestSMSAdapter_Send(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	a := NewSMSAdapter(ProviderConfig{ProviderID: "twilio", Enabled: true, APIURL: srv.URL, APIKey: "secret"}, nil, logger)

	res := a.Send(context.Background(), "alert", testRecipient, map[string]string{MetaPriority: "critical"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "SM123", res.MessageID)
	assert.Equal(t, "twilio", a.ProviderID())
	assert.Equal(t, "+15550001", body["to"])
	assert.Equal(t, "alert", body["message"])
	assert.Equal(t, "critical", body["priority"])
}

func TestVoiceAdapter_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewVoiceAdapter(ProviderConfig{Enabled: true, APIURL: srv.URL}, nil, zaptest.NewLogger(t))
	res := a.Send(context.Background(), "alert", testRecipient, nil)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "status 503")
	assert.Equal(t, model.ChannelVoice, res.Channel)
}

func TestChatAdapter_Formats(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	logger := zaptest.NewLogger(t)

	t.Run("slack", func(t *testing.T) {
		a := NewChatAdapter(ChatConfig{Enabled: true, WebhookURL: srv.URL}, nil, logger)
		res := a.Send(context.Background(), "alert text", testRecipient, nil)
		require.True(t, res.Success, res.Error)
		assert.NotEmpty(t, res.MessageID)

		var p slackPayload
		require.NoError(t, json.Unmarshal(raw, &p))
		assert.Equal(t, "@ana alert text", p.Text)
	})

	t.Run("discord", func(t *testing.T) {
		a := NewChatAdapter(ChatConfig{Enabled: true, WebhookURL: srv.URL, Format: FormatDiscord}, nil, logger)
		res := a.Send(context.Background(), "alert text", testRecipient, map[string]string{MetaPriority: "critical"})
		require.True(t, res.Success, res.Error)

		var p discordPayload
		require.NoError(t, json.Unmarshal(raw, &p))
		require.Len(t, p.Embeds, 1)
		assert.Equal(t, "alert text", p.Embeds[0].Description)
		assert.Equal(t, colorRed, p.Embeds[0].Color)
		assert.Equal(t, "@ana crisis alert", p.Content)
	})
}

func TestHTTPSender_CircuitOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPSender("flaky", nil, BreakerConfig{FailureThreshold: 2, FailureWindow: 2, Delay: time.Minute, SuccessThreshold: 1}, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_, err := s.PostJSON(context.Background(), srv.URL, nil, map[string]string{"k": "v"})
		require.Error(t, err)
	}
	assert.True(t, s.IsOpen())

	_, err := s.PostJSON(context.Background(), srv.URL, nil, map[string]string{"k": "v"})
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPSender_ClientErrorsKeepCircuitClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["to"] == "+bad" {
			http.Error(w, "invalid number", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	sender := NewHTTPSender("twilio", nil, BreakerConfig{FailureThreshold: 2, FailureWindow: 2, Delay: time.Minute, SuccessThreshold: 1}, logger)
	a := NewSMSAdapter(ProviderConfig{ProviderID: "twilio", Enabled: true, APIURL: srv.URL}, sender, logger)

	bad := testRecipient
	bad.Contacts = map[model.Channel]string{model.ChannelSMS: "+bad"}
	for i := 0; i < 6; i++ {
		res := a.Send(context.Background(), "alert", bad, nil)
		require.False(t, res.Success)
		assert.Contains(t, res.Error, "status 400")
	}
	assert.False(t, sender.IsOpen())

	res := a.Send(context.Background(), "alert", testRecipient, nil)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "SM1", res.MessageID)
}

func TestCountsAgainstProvider(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", errors.New("connection refused"), true},
		{"bad request", &StatusError{StatusCode: http.StatusBadRequest}, false},
		{"not found", &StatusError{StatusCode: http.StatusNotFound}, false},
		{"throttled", &StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &StatusError{StatusCode: http.StatusBadGateway}, true},
		{"wrapped server error", fmt.Errorf("sms provider: %w", &StatusError{StatusCode: 500}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countsAgainstProvider(tt.err))
		})
	}
}

func TestMessageIDFrom(t *testing.T) {
	assert.Equal(t, "m1", messageIDFrom([]byte(`{"message_id":"m1","id":"x"}`)))
	assert.Equal(t, "x", messageIDFrom([]byte(`{"id":"x"}`)))
	assert.Empty(t, messageIDFrom([]byte(`not json`)))
	assert.Empty(t, messageIDFrom(nil))
}

func TestBuildRegistry(t *testing.T) {
	channels := map[model.Channel]config.ChannelConfig{
		model.ChannelEmail: {Enabled: true, SMTPHost: "smtp", SMTPPort: 25, ProviderID: "ses"},
		model.ChannelSMS:   {Enabled: true, APIURL: "http://sms", ProviderID: "twilio"},
		model.ChannelVoice: {Enabled: true, APIURL: "http://voice", ProviderID: "twilio"},
		model.ChannelChat:  {Enabled: false, WebhookURL: "http://chat"},
	}

	reg := BuildRegistry(channels, zaptest.NewLogger(t))

	assert.Equal(t, []model.Channel{model.ChannelEmail, model.ChannelSMS, model.ChannelVoice}, reg.Available())
	assert.ElementsMatch(t, []string{"ses", "twilio", "chat"}, reg.Providers())

	sms, ok := reg.Lookup(model.ChannelSMS)
	require.True(t, ok)
	voice, _ := reg.Lookup(model.ChannelVoice)
	assert.Same(t, sms.Adapter.(*SMSAdapter).sender, voice.Adapter.(*VoiceAdapter).sender)

	chat, ok := reg.Lookup(model.ChannelChat)
	require.True(t, ok)
	assert.False(t, chat.Enabled)

	status := reg.ProviderStatus()
	require.Len(t, status, 3)
	assert.Equal(t, ProviderStatus{ProviderID: "ses", Channels: []model.Channel{model.ChannelEmail}}, status[0])
	assert.Equal(t, ProviderStatus{ProviderID: "twilio", Channels: []model.Channel{model.ChannelSMS, model.ChannelVoice}}, status[1])
	assert.Equal(t, "chat", status[2].ProviderID)

	assert.Empty(t, reg.Unavailable([]model.Channel{model.ChannelEmail, model.ChannelSMS}))
	assert.Equal(t, []model.Channel{model.ChannelChat}, reg.Unavailable([]model.Channel{model.ChannelSMS, model.ChannelChat}))
}

func TestRegistry_ProviderStatusReportsOpenCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	sender := NewHTTPSender("twilio", nil, BreakerConfig{FailureThreshold: 1, FailureWindow: 1, Delay: time.Minute, SuccessThreshold: 1}, logger)
	reg := NewRegistry()
	reg.Register(NewSMSAdapter(ProviderConfig{ProviderID: "twilio", Enabled: true, APIURL: srv.URL}, sender, logger))
	reg.AttachSender("twilio", sender)

	require.False(t, reg.ProviderStatus()[0].CircuitOpen)

	res := reg.table[model.ChannelSMS].Adapter.Send(context.Background(), "alert", testRecipient, nil)
	require.False(t, res.Success)

	status := reg.ProviderStatus()
	require.Len(t, status, 1)
	assert.True(t, status[0].CircuitOpen)
}
