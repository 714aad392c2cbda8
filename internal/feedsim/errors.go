package feedsim

import "errors"

// Sentinel kinds for simulator errors.
var (
	ErrUnknownTable = errors.New("unknown table")
)
