package stream

import "errors"

// Sentinel kinds for streaming errors.
var (
	ErrAlreadyConnected = errors.New("stream already connected")
	ErrNoEndpoint       = errors.New("stream endpoint not configured")
	ErrClosedByPeer     = errors.New("stream closed by peer")
	ErrBadFrame         = errors.New("bad stream frame")
)
