// Package config defines process configuration and its defaults.
package config

import "time"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StreamURL is the websocket feed. Empty disables streaming.
	StreamURL string `koanf:"stream_url"`

	// PollURL is the snapshot endpoint. Empty disables polling.
	PollURL string `koanf:"poll_url"`

	// APIKey, when set, is sent as X-Api-Key to both endpoints.
	APIKey string `koanf:"api_key"`

	// PollInterval is the fallback polling cadence, within [2s, 5m].
	PollInterval time.Duration `koanf:"poll_interval"`

	// PollTimeout bounds one poll request.
	PollTimeout time.Duration `koanf:"poll_timeout"`

	// ConnectTimeout bounds the websocket handshake and the wait for the connected ack.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`

	// HeartbeatInterval is the expected upstream heartbeat cadence; three
	// missed intervals end the stream session.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// BackoffBase, BackoffMax and MaxReconnectAttempts shape stream reconnects.
	BackoffBase          time.Duration `koanf:"backoff_base"`
	BackoffMax           time.Duration `koanf:"backoff_max"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`

	// HealthInterval and StaleAfter drive the freshness self-check.
	HealthInterval time.Duration `koanf:"health_interval"`
	StaleAfter     time.Duration `koanf:"stale_after"`

	// StartupPoll runs one poll while the first stream connection is pending.
	StartupPoll bool `koanf:"startup_poll"`

	// MaxHistory bounds stored observations per table, within [50, 1000].
	MaxHistory int `koanf:"max_history"`

	// DedupeWindow is how many recent observations a candidate is compared to.
	DedupeWindow int `koanf:"dedupe_window"`

	// DispatchQueueSize bounds pending subscriber notifications.
	DispatchQueueSize int `koanf:"dispatch_queue_size"`

	// DispatchWorkers sets the number of callback dispatch goroutines. Above 1,
	// notifications for one entity may arrive out of order; the hub warns at start.
	DispatchWorkers int `koanf:"dispatch_workers"`

	// RefreshMinInterval rate-limits forced refreshes.
	RefreshMinInterval time.Duration `koanf:"refresh_min_interval"`

	// FreshnessThreshold is the cache age that triggers a fetch on resume.
	FreshnessThreshold time.Duration `koanf:"freshness_threshold"`

	// CORSOrigins lists origins allowed to call the HTTP API.
	CORSOrigins []string `koanf:"cors_origins"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		StreamURL:            "ws://localhost:9090/stream",
		PollURL:              "http://localhost:9090/tables",
		PollInterval:         10 * time.Second,
		PollTimeout:          12 * time.Second,
		ConnectTimeout:       10 * time.Second,
		HeartbeatInterval:    15 * time.Second,
		BackoffBase:          time.Second,
		BackoffMax:           30 * time.Second,
		MaxReconnectAttempts: 5,
		HealthInterval:       60 * time.Second,
		StaleAfter:           90 * time.Second,
		StartupPoll:          true,
		MaxHistory:           100,
		DedupeWindow:         3,
		DispatchQueueSize:    1024,
		DispatchWorkers:      1,
		RefreshMinInterval:   5 * time.Second,
		FreshnessThreshold:   30 * time.Second,
		CORSOrigins:          []string{"*"},
	}
}
