// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/livetables/internal/domain/classify"
)

// Observation is one reported outcome of a table.
type Observation struct {
	Value      int       // outcome value, 0-36
	ObservedAt time.Time // timestamp assigned by the upstream source
}

// Key identifies an observation for deduplication purposes.
type Key struct {
	Value      int
	ObservedAt int64 // unix nanoseconds
}

// Key returns the (value, observedAt) pair of o.
func (o Observation) Key() Key {
	return Key{Value: o.Value, ObservedAt: o.ObservedAt.UnixNano()}
}

// Timestamps outside (minObservedAt, maxObservedAt) are rejected; Key relies
// on UnixNano, which saturates beyond year 2262.
var (
	minObservedAt = time.Unix(0, 0).UTC()                       //nolint:gochecknoglobals // fixed bound
	maxObservedAt = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // fixed bound
)

// Valid reports whether o carries a value in the wheel domain and a
// timestamp after the unix epoch and before 2200.
func (o Observation) Valid() bool {
	return classify.InRange(o.Value) &&
		o.ObservedAt.After(minObservedAt) &&
		o.ObservedAt.Before(maxObservedAt)
}

// Attributes computes the derived attributes of o. They are never stored.
func (o Observation) Attributes() classify.Attributes {
	return classify.Of(o.Value)
}

// Entity is the last-known state of one live table.
type Entity struct {
	ID            string
	Name          string
	IsOpen        bool
	History       []Observation // most-recent-first
	LastUpdatedAt time.Time     // last accepted mutation
	LastSeenAt    time.Time     // last accepted sighting, changed or not
}

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	out := e
	if e.History != nil {
		out.History = make([]Observation, len(e.History))
		copy(out.History, e.History)
	}
	return out
}

// Latest returns the most recent observation, if any.
func (e Entity) Latest() (Observation, bool) {
	if len(e.History) == 0 {
		return Observation{}, false
	}
	return e.History[0], true
}

// EntityPatch is a partial-or-full entity snapshot as delivered by a transport.
// Nil fields are left untouched when applied.
type EntityPatch struct {
	ID           string
	Name         *string
	IsOpen       *bool
	Observations []Observation
}

// Empty reports whether p carries nothing to apply besides its ID.
func (p EntityPatch) Empty() bool {
	return p.Name == nil && p.IsOpen == nil && len(p.Observations) == 0
}
