package delivery

import "errors"

// ErrNoChannels is returned when no channel adapter is available
var ErrNoChannels = errors.New("no delivery channel is available")
