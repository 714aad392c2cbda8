package coordinator

import (
	"context"

	"github.com/okian/livetables/pkg/logger"
	"github.com/okian/livetables/pkg/metrics"
)

// Poll triggers.
const (
	TriggerStartup   = "startup"
	TriggerScheduled = "scheduled"
	TriggerForced    = "forced"
	TriggerHealth    = "health"
	TriggerResume    = "resume"
)

const pollKey = "poll"

// RefreshResult describes one Refresh call.
type RefreshResult struct {
	Changed int  // entities changed by the fetch
	Joined  bool // the caller joined a fetch already in flight
}

// Refresh polls once outside the cadence. Concurrent callers, including the
// scheduled poll loop, share a single fetch.
func (c *Coordinator) Refresh(ctx context.Context, trigger string) (RefreshResult, error) {
	c.mu.RLock()
	base := c.runCtx
	c.mu.RUnlock()

	if !c.Running() || base == nil || base.Err() != nil {
		return RefreshResult{}, ErrStopped
	}
	return c.fetch(ctx, base, trigger)
}

// InFlight reports whether a poll is currently running.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

func (c *Coordinator) refresh(ctx context.Context, trigger string) (RefreshResult, error) {
	return c.fetch(ctx, ctx, trigger)
}

// fetch waits on ctx for a poll that runs under base.
func (c *Coordinator) fetch(ctx, base context.Context, trigger string) (RefreshResult, error) {
	if c.poller == nil {
		return RefreshResult{}, ErrNoPoller
	}

	ran := false
	ch := c.flight.DoChan(pollKey, func() (any, error) {
		ran = true
		return c.pollOnce(base, trigger)
	})

	select {
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	case r := <-ch:
		res := RefreshResult{Joined: !ran}
		if res.Joined {
			c.sharedPolls.Add(1)
			metrics.RecordPoll(trigger, "shared")
		}
		if r.Err != nil {
			return res, r.Err
		}
		res.Changed = r.Val.(int)
		return res, nil
	}
}

func (c *Coordinator) pollOnce(ctx context.Context, trigger string) (int, error) {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)
	c.polls.Add(1)

	batch, err := c.poller.Poll(ctx)
	if err != nil {
		c.pollErrors.Add(1)
		metrics.RecordPoll(trigger, "error")
		if ctx.Err() != nil {
			return 0, err
		}
		c.noteError(err)
		c.logger.Warn(ctx, "poll failed", logger.String("trigger", trigger), logger.Error(err))
		if fails := c.pollFails.Add(1); c.streamer == nil && fails >= int64(c.maxAttempts) {
			c.setDegraded(ctx, true)
		}
		return 0, err
	}

	metrics.RecordPoll(trigger, "ok")
	c.pollFails.Store(0)
	if c.streamer == nil {
		c.setDegraded(ctx, false)
	}
	return c.Ingest(ctx, batch), nil
}

// startPolling launches the fallback poll loop unless it already runs.
func (c *Coordinator) startPolling(ctx context.Context) {
	if c.poller == nil {
		return
	}

	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollCancel != nil {
		return
	}

	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.pollCancel, c.pollDone = cancel, done
	go c.pollLoop(pctx, done)

	c.logger.Info(ctx, "polling started", logger.Duration("interval", c.pollInterval))
}

// stopPolling cancels the poll loop, including a poll in progress, and waits
// for it to exit.
func (c *Coordinator) stopPolling() {
	c.pollMu.Lock()
	cancel, done := c.pollCancel, c.pollDone
	c.pollCancel, c.pollDone = nil, nil
	c.pollMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info(context.Background(), "polling stopped")
}

// Polling reports whether the fallback poll loop is running.
func (c *Coordinator) Polling() bool {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	return c.pollCancel != nil
}

// pollLoop polls immediately and then on every tick until ctx is canceled.
func (c *Coordinator) pollLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.pollInterval)
	defer ticker.Stop()

	_, _ = c.refresh(ctx, TriggerScheduled)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			_, _ = c.refresh(ctx, TriggerScheduled)
		}
	}
}
