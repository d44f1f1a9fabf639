package collector

import "errors"

var (
	// ErrNotStarted is returned by Scan before Start has subscribed to the stream
	ErrNotStarted = errors.New("collector not started")

	// ErrInvalidMention is returned for mentions that violate field ranges
	ErrInvalidMention = errors.New("invalid mention")
)
