package stream

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHandshakeTimeout bounds the websocket opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithReadLimit caps the size of a single frame.
func WithReadLimit(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithHeader adds a header to the opening handshake.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if key != "" {
			c.header.Set(key, value)
		}
	}
}

// WithHTTPHeader merges h into the opening handshake headers.
func WithHTTPHeader(h http.Header) Option {
	return func(c *Client) {
		for k, vs := range h {
			for _, v := range vs {
				c.header.Add(k, v)
			}
		}
	}
}

// WithClock sets the clock used to timestamp signals.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
