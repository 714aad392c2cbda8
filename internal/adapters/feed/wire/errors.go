package wire

import "errors"

// Sentinel kinds for decoding errors.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrBadTimestamp     = errors.New("bad timestamp")
)
