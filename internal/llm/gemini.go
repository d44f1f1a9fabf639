package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// DefaultModel is used when no model name is configured
const DefaultModel = "gemini-1.5-flash"

const defaultTimeout = 60 * time.Second

// generator is the subset of *genai.GenerativeModel used here
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client is a Gemini-backed text completion capability
type Client struct {
	logger    *zap.Logger
	client    *genai.Client
	model     generator
	modelName string
	timeout   time.Duration
}

// NewClient connects to the Gemini API
func NewClient(ctx context.Context, apiKey, modelName string, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	gClient, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := gClient.GenerativeModel(modelName)
	model.SetTemperature(0.2)

	return &Client{
		logger:    logger.Named("llm"),
		client:    gClient,
		model:     model,
		modelName: modelName,
		timeout:   defaultTimeout,
	}, nil
}

// Complete sends the prompt and returns the concatenated text parts of the first candidate
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("Completion received",
		zap.String("model", c.modelName),
		zap.Int("prompt_length", len(prompt)),
		zap.Int("response_length", len(text)),
		zap.Duration("duration", time.Since(start)))

	return text, nil
}

// Close releases the underlying client
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}
