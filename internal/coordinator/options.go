package coordinator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/internal/adapters/feed/poll"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithPollInterval sets the fallback polling cadence, clamped to the poll bounds.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.pollInterval = poll.ClampInterval(d)
	}
}

// WithConnectTimeout bounds the wait for the connected ack after dialing.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithHeartbeatInterval sets the expected heartbeat cadence. The liveness
// timeout is three intervals unless set explicitly.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.liveness = livenessFactor * d
		}
	}
}

// WithLivenessTimeout sets how long an established stream may stay silent.
func WithLivenessTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.liveness = d
		}
	}
}

// WithBackoff sets the reconnect delay base, cap and the attempt count after
// which the delay is held at the cap and the status becomes degraded.
func WithBackoff(base, maxDelay time.Duration, maxAttempts int) Option {
	return func(c *Coordinator) {
		if base > 0 {
			c.backoffBase = base
		}
		if maxDelay >= c.backoffBase {
			c.backoffMax = maxDelay
		}
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

// WithHealthCheck sets how often freshness is checked and how old the last
// accepted batch may be before a reconnect and poll are forced.
func WithHealthCheck(interval, staleAfter time.Duration) Option {
	return func(c *Coordinator) {
		if interval > 0 {
			c.healthInterval = interval
		}
		if staleAfter > 0 {
			c.staleAfter = staleAfter
		}
	}
}

// WithStartupPoll enables one poll while the first stream connection is pending.
func WithStartupPoll(enabled bool) Option {
	return func(c *Coordinator) {
		c.startupPoll = enabled
	}
}

// WithPublisher sets where change sets are sent after each accepted batch.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithStatusHook registers a function called after every status transition.
func WithStatusHook(fn func(ctx context.Context, st model.Status)) Option {
	return func(c *Coordinator) {
		c.onStatus = fn
	}
}

// WithClock sets the clock used for timers and timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets a custom logger for the coordinator.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}
