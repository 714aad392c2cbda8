package hub

import "errors"

// Sentinel kinds for hub errors.
var (
	ErrInvalidTopic = errors.New("invalid topic")
	ErrNilCallback  = errors.New("nil callback")
)
