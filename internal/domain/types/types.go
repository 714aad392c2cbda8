// Package types contains the read shapes served to API consumers
package types

import (
	"time"

	"github.com/okian/livetables/internal/domain/classify"
	"github.com/okian/livetables/internal/domain/model"
)

// Outcome is one observation with its derived attributes
type Outcome struct {
	Value      int       `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	classify.Attributes
}

// Table is the consumer view of one live table
type Table struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	IsOpen        bool      `json:"is_open"`
	Latest        *Outcome  `json:"latest,omitempty"`
	History       []Outcome `json:"history"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// RefreshResponse mirrors the result of a forced refresh
type RefreshResponse struct {
	Ran     bool   `json:"ran"`
	Reason  string `json:"reason,omitempty"`
	Changed int    `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// ActivityResponse acknowledges an activity signal
type ActivityResponse struct {
	Active bool `json:"active"`
}

// OutcomeFrom builds the view of o.
func OutcomeFrom(o model.Observation) Outcome {
	return Outcome{Value: o.Value, ObservedAt: o.ObservedAt, Attributes: o.Attributes()}
}

// TableFrom builds the view of e with at most limit history entries.
// A non-positive limit keeps the whole history.
func TableFrom(e model.Entity, limit int) Table {
	h := e.History
	if limit > 0 && len(h) > limit {
		h = h[:limit]
	}

	t := Table{
		ID:            e.ID,
		Name:          e.Name,
		IsOpen:        e.IsOpen,
		History:       make([]Outcome, 0, len(h)),
		LastUpdatedAt: e.LastUpdatedAt,
	}
	for _, o := range h {
		t.History = append(t.History, OutcomeFrom(o))
	}
	if len(t.History) > 0 {
		latest := t.History[0]
		t.Latest = &latest
	}
	return t
}

// TablesFrom builds views for every entity, preserving order.
func TablesFrom(es []model.Entity, limit int) []Table {
	out := make([]Table, 0, len(es))
	for _, e := range es {
		out = append(out, TableFrom(e, limit))
	}
	return out
}
