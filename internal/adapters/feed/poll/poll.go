// Package poll fetches full table snapshots from a request/response endpoint.
//
// The client performs exactly one request per Poll call and never retries;
// cadence and retry policy belong to the caller.
package poll

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/internal/adapters/feed/wire"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/pkg/logger"
	"github.com/okian/livetables/pkg/metrics"
)

// Cadence bounds shared with the coordinator.
const (
	DefaultInterval = 10 * time.Second
	MinInterval     = 2 * time.Second
	MaxInterval     = 5 * time.Minute
	DefaultTimeout  = 12 * time.Second
)

// ClampInterval maps d into [MinInterval, MaxInterval]; zero means the default.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

// Client polls one configured endpoint.
type Client struct {
	http    *resty.Client
	url     string
	timeout time.Duration
	headers map[string]string
	clock   clockwork.Clock
	logger  logger.Logger
}

// New creates a polling client for url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		timeout: DefaultTimeout,
		headers: make(map[string]string),
		clock:   clockwork.NewRealClock(),
		logger:  logger.Get().Named("poll"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.http = resty.New().
		SetTimeout(c.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "livetables/1").
		SetHeaders(c.headers)

	return c
}

// URL returns the polled endpoint.
func (c *Client) URL() string { return c.url }

// Poll performs one request and decodes the snapshot into a batch.
func (c *Client) Poll(ctx context.Context) (model.UpdateBatch, error) {
	if c.url == "" {
		return model.UpdateBatch{}, ErrNoEndpoint
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().SetContext(ctx).Get(c.url)
	metrics.RecordPollLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordTransportError(string(model.SourcePoll), errorKind(err))
		return model.UpdateBatch{}, fmt.Errorf("poll %s: %w", c.url, err)
	}
	if resp.IsError() {
		metrics.RecordTransportError(string(model.SourcePoll), "status")
		return model.UpdateBatch{}, fmt.Errorf("poll %s: %w: %d", c.url, ErrUpstreamStatus, resp.StatusCode())
	}

	batch, err := wire.Batch(resp.Body(), model.SourcePoll, c.clock.Now(), "")
	if err != nil {
		metrics.RecordTransportError(string(model.SourcePoll), "decode")
		return model.UpdateBatch{}, fmt.Errorf("poll %s: %w", c.url, err)
	}

	c.logger.Debug(ctx, "poll completed",
		logger.Int("tables", batch.Len()),
		logger.Duration("latency", time.Since(start)),
	)
	return batch, nil
}

func errorKind(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "request"
	}
}
