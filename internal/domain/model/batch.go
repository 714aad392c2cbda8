package model

import "time"

// Source tags which transport produced a batch. Diagnostics only.
type Source string

// Known sources.
const (
	SourceStream Source = "stream"
	SourcePoll   Source = "poll"
)

// UpdateBatch is the unit of work flowing from a transport into the coordinator.
type UpdateBatch struct {
	Source     Source
	Entities   []EntityPatch
	ReceivedAt time.Time
	Cursor     string // upstream event id, when the transport has one
}

// Len returns the number of entity snapshots in b.
func (b UpdateBatch) Len() int {
	return len(b.Entities)
}

// Change describes one entity that was mutated by an accepted batch.
type Change struct {
	Entity          Entity
	Created         bool
	NewObservations []Observation // accepted novel observations, most-recent-first
	Source          Source
}
