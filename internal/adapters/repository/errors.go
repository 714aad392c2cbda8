package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound  = errors.New("entity not found")
	ErrInvalidID = errors.New("invalid entity id")
)
