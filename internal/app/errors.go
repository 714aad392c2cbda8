package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNoTransport = errors.New("neither stream nor poll endpoint configured")
)
