package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/zap"
)

const (
	userAgent          = "crisiswatch/1.0"
	maxResponseBody    = 64 << 10
	defaultHTTPTimeout = 15 * time.Second
)

// BreakerConfig tunes the circuit breaker guarding an HTTP provider
type BreakerConfig struct {
	FailureThreshold uint
	FailureWindow    uint
	Delay            time.Duration
	SuccessThreshold uint
}

// DefaultBreakerConfig opens after 5 failures in 10 calls and half-opens after 30s
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    10,
		Delay:            30 * time.Second,
		SuccessThreshold: 1,
	}
}

// StatusError is a non-2xx provider response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// countsAgainstProvider reports whether err says the provider itself is unhealthy.
// Client errors other than 429 concern a single request or recipient.
func countsAgainstProvider(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// HTTPSender posts JSON to a provider through a circuit breaker
type HTTPSender struct {
	logger  *zap.Logger
	client  *http.Client
	breaker circuitbreaker.CircuitBreaker[any]
}

// NewHTTPSender creates a sender. A nil client gets a default one.
func NewHTTPSender(name string, client *http.Client, cfg BreakerConfig, logger *zap.Logger) *HTTPSender {
	if client == nil {
		client = &http.Client{
			Timeout: defaultHTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}
	if cfg.FailureThreshold == 0 || cfg.FailureWindow == 0 {
		cfg = DefaultBreakerConfig()
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}

	l := logger.Named("http-sender").With(zap.String("provider", name))
	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.FailureWindow).
		WithDelay(cfg.Delay).
		WithSuccessThreshold(cfg.SuccessThreshold).
		HandleIf(func(_ any, err error) bool {
			return countsAgainstProvider(err)
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			l.Warn("Circuit breaker state change",
				zap.String("from", event.OldState.String()),
				zap.String("to", event.NewState.String()))
		}).
		Build()

	return &HTTPSender{logger: l, client: client, breaker: breaker}
}

// PostJSON sends body as JSON and returns the response body on a 2xx status
func (s *HTTPSender) PostJSON(ctx context.Context, url string, headers map[string]string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	out, err := failsafe.With(s.breaker).Get(func() (any, error) {
		return s.do(ctx, url, headers, payload)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.([]byte), nil
}

// IsOpen reports whether the breaker is currently rejecting calls
func (s *HTTPSender) IsOpen() bool {
	return s.breaker.IsOpen()
}

func (s *HTTPSender) do(ctx context.Context, url string, headers map[string]string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}
	return respBody, nil
}

// messageIDFrom extracts a provider message id from a JSON response
func messageIDFrom(body []byte) string {
	var resp struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
		SID       string `json:"sid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	switch {
	case resp.MessageID != "":
		return resp.MessageID
	case resp.SID != "":
		return resp.SID
	default:
		return resp.ID
	}
}
