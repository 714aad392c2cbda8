package feedsim

import "time"

// Default simulator configuration constants.
const (
	DefaultTables            = 8
	DefaultSpinInterval      = 3 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHistory           = 30
	replayBuffer             = 256
	peerSendBuffer           = 64
	writeTimeout             = 5 * time.Second
)

// Config holds configuration for the simulator.
type Config struct {
	Addr              string        // listen address for cmd/feedsim
	Tables            int           // number of simulated tables
	SpinInterval      time.Duration // how often a random table produces an outcome
	HeartbeatInterval time.Duration // how often heartbeat frames are sent
	History           int           // outcomes kept per table in poll snapshots
	Verbose           bool
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Tables <= 0 {
		c.Tables = DefaultTables
	}
	if c.SpinInterval <= 0 {
		c.SpinInterval = DefaultSpinInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.History <= 0 {
		c.History = DefaultHistory
	}
	return c
}

// Stats holds simulator counters.
type Stats struct {
	Spins          int64 `json:"spins"`
	PollRequests   int64 `json:"poll_requests"`
	StreamConnects int64 `json:"stream_connects"`
	ActivePeers    int   `json:"active_peers"`
	FramesSent     int64 `json:"frames_sent"`
	Replayed       int64 `json:"replayed"`
}
