package hub

import (
	"github.com/okian/livetables/pkg/logger"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithQueueSize bounds the number of notifications waiting for dispatch.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithWorkers sets the number of dispatch workers. More than one worker
// gives up ordering between notifications.
func WithWorkers(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.workers = n
		}
	}
}

// WithLogger sets a custom logger for the hub.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}
