package llm

import "errors"

var (
	// ErrMissingAPIKey is returned when the reasoning client is enabled without credentials
	ErrMissingAPIKey = errors.New("gemini API key is required")

	// ErrEmptyResponse is returned when the model produced no text
	ErrEmptyResponse = errors.New("empty response from model")
)
