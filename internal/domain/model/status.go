package model

import "time"

// Status is the observable health of the synchronization pipeline.
type Status struct {
	State            string    `json:"state"`
	StreamState      string    `json:"stream_state"`
	Degraded         bool      `json:"degraded"`
	Running          bool      `json:"running"`
	Active           bool      `json:"active"`
	ReconnectAttempt int       `json:"reconnect_attempt"`
	LastAcceptedAt   time.Time `json:"last_accepted_at"`
	LastError        string    `json:"last_error,omitempty"`
	Entities         int       `json:"entities"`
	Since            time.Time `json:"since"` // when State was entered
}
