package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrLimitExceeded = errors.New("limit exceeded")
)

// wrap prefixes err with the operation name.
func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

// newKind reports a bare sentinel kind for op.
func newKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// wrapKind tags err with a sentinel kind so callers can match either.
func wrapKind(kind, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}
