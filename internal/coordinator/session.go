package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/okian/livetables/internal/adapters/feed/stream"
	"github.com/okian/livetables/pkg/logger"
	"github.com/okian/livetables/pkg/metrics"
)

// streamLoop keeps a stream session open, falling back to polling between
// sessions, until ctx is canceled.
func (c *Coordinator) streamLoop(ctx context.Context) error {
	for {
		if !c.Polling() {
			c.setState(ctx, StateStreamPreferred)
		}

		c.sessions.Add(1)
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		forced := errors.Is(err, ErrForcedReconnect)
		c.noteError(err)
		c.logger.Warn(ctx, "stream session ended",
			logger.Bool("was_connected", connected),
			logger.Bool("forced", forced),
			logger.Error(err),
		)

		c.setState(ctx, StateReconnectBackoff)
		if c.poller != nil {
			c.startPolling(ctx)
			c.setState(ctx, StatePollingFallback)
		}

		var delay time.Duration
		if !forced {
			delay = c.nextDelay(ctx)
		}
		if !c.wait(ctx, delay) {
			return nil
		}

		c.reconnects.Add(1)
		metrics.RecordReconnectAttempt()
	}
}

// session runs one connection. It reports whether the connection was
// acknowledged and why it ended; a nil error means ctx was canceled.
func (c *Coordinator) session(ctx context.Context) (bool, error) {
	signals, errs, err := c.streamer.Connect(ctx)
	if err != nil {
		return false, err
	}
	defer c.streamer.Disconnect()

	timer := c.clock.NewTimer(c.connectTimeout)
	defer timer.Stop()

	connected := false
	for {
		select {
		case <-ctx.Done():
			return connected, nil
		case <-c.force:
			return connected, ErrForcedReconnect
		case err := <-errs:
			return connected, err
		case sig, ok := <-signals:
			if !ok {
				select {
				case err := <-errs:
					return connected, err
				default:
					return connected, ErrStreamEnded
				}
			}

			switch sig.Kind {
			case stream.SignalConnected:
				if !connected {
					connected = true
					c.onConnected(ctx)
				}
			case stream.SignalUpdate:
				c.Ingest(ctx, sig.Batch)
			case stream.SignalHeartbeat:
				metrics.RecordHeartbeat()
			}
			if connected {
				timer.Reset(c.liveness)
			}
		case <-timer.Chan():
			if connected {
				return true, ErrLivenessTimeout
			}
			return false, ErrHandshakeTimeout
		}
	}
}

func (c *Coordinator) onConnected(ctx context.Context) {
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()

	c.stopPolling()
	c.setState(ctx, StateStreamActive)
	c.setDegraded(ctx, false)
	c.logger.Info(ctx, "stream active")
}

// nextDelay consumes one reconnect attempt and returns how long to wait.
func (c *Coordinator) nextDelay(ctx context.Context) time.Duration {
	c.mu.Lock()
	n := c.attempt
	c.attempt++
	exhausted := c.attempt >= c.maxAttempts
	c.mu.Unlock()

	if exhausted {
		c.setDegraded(ctx, true)
	}
	delay := c.backoffDelay(n)
	c.logger.Info(ctx, "stream reconnect scheduled", logger.Int("attempt", n+1), logger.Duration("delay", delay))
	return delay
}

// backoffDelay is base × 2^n, capped, and held at the cap from maxAttempts on.
func (c *Coordinator) backoffDelay(n int) time.Duration {
	if n >= c.maxAttempts {
		return c.backoffMax
	}
	d := c.backoffBase
	for i := 0; i < n; i++ {
		d *= 2
		if d >= c.backoffMax {
			return c.backoffMax
		}
	}
	return d
}

// wait sleeps for d, returning early on a forced reconnect. It reports false
// when ctx was canceled.
func (c *Coordinator) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := c.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	case <-c.force:
		return true
	}
}

// ForceReconnect ends the current stream session, or cuts a backoff wait
// short. It never blocks.
func (c *Coordinator) ForceReconnect() {
	select {
	case c.force <- struct{}{}:
	default:
	}
}
