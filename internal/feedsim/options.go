package feedsim

import (
	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/pkg/logger"
)

// Option applies a configuration option to the Simulator.
type Option func(*Simulator)

// WithClock sets the clock used for outcome timestamps and tickers.
func WithClock(c clockwork.Clock) Option {
	return func(s *Simulator) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the simulator.
func WithLogger(l logger.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}
