package coordinator

import "errors"

// Sentinel kinds for coordinator errors.
var (
	ErrStopped          = errors.New("coordinator stopped")
	ErrNoPoller         = errors.New("polling transport not configured")
	ErrHandshakeTimeout = errors.New("stream handshake timed out")
	ErrLivenessTimeout  = errors.New("stream liveness timed out")
	ErrForcedReconnect  = errors.New("stream reconnect forced")
	ErrStreamEnded      = errors.New("stream ended")
)
