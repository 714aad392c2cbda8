package repository

import "github.com/jonboulle/clockwork"

// History length bounds.
const (
	DefaultMaxHistory = 100
	MinMaxHistory     = 50
	MaxMaxHistory     = 1000
)

// Option applies a configuration option to the MemStore.
type Option func(*MemStore)

// WithMaxHistory bounds each entity's history. Values are clamped to [50, 1000].
func WithMaxHistory(n int) Option {
	return func(s *MemStore) {
		s.maxHistory = ClampHistory(n)
	}
}

// WithClock sets the clock used for LastUpdatedAt and LastSeenAt.
func WithClock(c clockwork.Clock) Option {
	return func(s *MemStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// ClampHistory maps n into the supported history range.
func ClampHistory(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxHistory
	case n < MinMaxHistory:
		return MinMaxHistory
	case n > MaxMaxHistory:
		return MaxMaxHistory
	}
	return n
}
