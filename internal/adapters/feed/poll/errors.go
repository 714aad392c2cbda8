package poll

import "errors"

// Sentinel kinds for polling errors.
var (
	ErrUpstreamStatus = errors.New("unexpected upstream status")
	ErrNoEndpoint     = errors.New("poll endpoint not configured")
)
