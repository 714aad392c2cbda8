package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Bounds enforced by Validate.
const (
	MinPollInterval = 2 * time.Second
	MaxPollInterval = 5 * time.Minute
	MinHistory      = 50
	MaxHistory      = 1000
)

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return invalid("addr must not be empty")
	}
	if c.StreamURL == "" && c.PollURL == "" {
		return invalid("at least one of stream_url and poll_url is required")
	}
	if err := checkURL("stream_url", c.StreamURL, "ws", "wss", "http", "https"); err != nil {
		return err
	}
	if err := checkURL("poll_url", c.PollURL, "http", "https"); err != nil {
		return err
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return invalid("log_format %q is not text or json", c.LogFormat)
	}

	if c.PollInterval < MinPollInterval || c.PollInterval > MaxPollInterval {
		return invalid("poll_interval %s outside [%s, %s]", c.PollInterval, MinPollInterval, MaxPollInterval)
	}
	if c.MaxHistory < MinHistory || c.MaxHistory > MaxHistory {
		return invalid("max_history %d outside [%d, %d]", c.MaxHistory, MinHistory, MaxHistory)
	}
	if c.BackoffMax < c.BackoffBase {
		return invalid("backoff_max %s is below backoff_base %s", c.BackoffMax, c.BackoffBase)
	}

	positive := map[string]time.Duration{
		"poll_timeout":         c.PollTimeout,
		"connect_timeout":      c.ConnectTimeout,
		"heartbeat_interval":   c.HeartbeatInterval,
		"backoff_base":         c.BackoffBase,
		"health_interval":      c.HealthInterval,
		"stale_after":          c.StaleAfter,
		"refresh_min_interval": c.RefreshMinInterval,
		"freshness_threshold":  c.FreshnessThreshold,
	}
	for name, d := range positive {
		if d <= 0 {
			return invalid("%s must be positive", name)
		}
	}

	counts := map[string]int{
		"max_reconnect_attempts": c.MaxReconnectAttempts,
		"dedupe_window":          c.DedupeWindow,
		"dispatch_queue_size":    c.DispatchQueueSize,
		"dispatch_workers":       c.DispatchWorkers,
	}
	for name, n := range counts {
		if n <= 0 {
			return invalid("%s must be positive", name)
		}
	}
	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("%s: %v", name, err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			if u.Host == "" {
				return invalid("%s %q has no host", name, raw)
			}
			return nil
		}
	}
	return invalid("%s scheme %q not allowed", name, u.Scheme)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}
