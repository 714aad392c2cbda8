package coordinator

import (
	"context"

	"github.com/okian/livetables/pkg/logger"
	"github.com/okian/livetables/pkg/metrics"
)

// healthLoop treats prolonged silence as a failure even when no transport
// reported one.
func (c *Coordinator) healthLoop(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			c.checkHealth(ctx)
		}
	}
}

func (c *Coordinator) checkHealth(ctx context.Context) {
	age := c.clock.Since(c.LastAccepted())
	if age < c.staleAfter {
		return
	}

	c.healthForced.Add(1)
	metrics.RecordHealthForced()
	c.logger.Warn(ctx, "no update accepted within stale threshold, forcing reconnect",
		logger.Duration("age", age),
		logger.Duration("threshold", c.staleAfter),
		logger.String("state", string(c.State())),
	)

	if c.streamer != nil {
		c.ForceReconnect()
	}
	if c.poller != nil {
		_, _ = c.refresh(ctx, TriggerHealth)
	}
}
