package config

import "errors"

var (
	// ErrInvalidConfig is returned when configuration fails validation
	ErrInvalidConfig = errors.New("invalid configuration")
)
