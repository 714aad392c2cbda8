package service

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/internal/coordinator"
	"github.com/okian/livetables/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStreamURL sets the websocket feed endpoint.
func WithStreamURL(url string) Option {
	return func(s *Service) {
		s.streamURL = url
	}
}

// WithPollURL sets the snapshot endpoint.
func WithPollURL(url string) Option {
	return func(s *Service) {
		s.pollURL = url
	}
}

// WithAPIKey sends key as X-Api-Key to both endpoints.
func WithAPIKey(key string) Option {
	return func(s *Service) {
		s.apiKey = key
	}
}

// WithStreamer replaces the websocket transport.
func WithStreamer(st coordinator.Streamer) Option {
	return func(s *Service) {
		s.streamer = st
	}
}

// WithPoller replaces the polling transport.
func WithPoller(p coordinator.Poller) Option {
	return func(s *Service) {
		s.poller = p
	}
}

// WithPollTimeout bounds one poll request.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithConnectTimeout bounds the websocket handshake and the connected ack.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithCoordinatorOptions passes options through to the transport coordinator.
func WithCoordinatorOptions(opts ...coordinator.Option) Option {
	return func(s *Service) {
		s.coordOpts = append(s.coordOpts, opts...)
	}
}

// WithMaxHistory sets how many observations are kept per table.
func WithMaxHistory(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithDedupeWindow sets how many recent observations a candidate is compared to.
func WithDedupeWindow(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.dedupeWindow = k
		}
	}
}

// WithDispatch sets the notification queue size and dispatch worker count.
func WithDispatch(queueSize, workers int) Option {
	return func(s *Service) {
		if queueSize > 0 {
			s.queueSize = queueSize
		}
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithRefreshMinInterval rate-limits ForceRefresh.
func WithRefreshMinInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.refreshMin = d
		}
	}
}

// WithFreshnessThreshold sets the cache age that triggers a fetch on resume.
func WithFreshnessThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// WithClock sets the clock shared by every component.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
