// Package dedupe decides which incoming observations are novel for an entity.
package dedupe

import (
	"sync/atomic"

	"github.com/okian/livetables/internal/domain/model"
)

// Default window size.
const (
	DefaultWindow = 3
	maxWindow     = 50
)

// Verdict summarizes what Filter did with one entity patch.
type Verdict struct {
	Noop      bool // patch had no entity id and was ignored
	Novel     int
	Duplicate int
	Malformed int // value outside the wheel domain or missing timestamp
}

// Dropped is the number of observations that did not survive filtering.
func (v Verdict) Dropped() int {
	return v.Duplicate + v.Malformed
}

// Stats are cumulative counters since the deduper was created.
type Stats struct {
	Patches   int64
	Noops     int64
	Novel     int64
	Duplicate int64
	Malformed int64
}

// Deduper filters entity patches against the observations already stored.
type Deduper interface {
	// Filter returns patch with only its novel observations, in delivery order.
	// known must be the entity's stored history, most-recent-first; only the
	// first Window() entries are consulted.
	Filter(known []model.Observation, patch model.EntityPatch) (model.EntityPatch, Verdict)

	// Window is the number of recent stored observations a candidate is compared to.
	Window() int

	Stats() Stats
}

// windowDeduper compares candidates to a sliding window of recent history.
// It holds no per-entity state; the store's history is the memory.
type windowDeduper struct {
	window int

	patches   atomic.Int64
	noops     atomic.Int64
	novel     atomic.Int64
	duplicate atomic.Int64
	malformed atomic.Int64
}

// New creates a Deduper.
func New(opts ...Option) Deduper {
	d := &windowDeduper{
		window: DefaultWindow,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *windowDeduper) Window() int { return d.window }

func (d *windowDeduper) Filter(known []model.Observation, patch model.EntityPatch) (model.EntityPatch, Verdict) {
	d.patches.Add(1)

	var v Verdict
	if patch.ID == "" {
		v.Noop = true
		d.noops.Add(1)
		return model.EntityPatch{}, v
	}

	recent := known
	if len(recent) > d.window {
		recent = recent[:d.window]
	}

	seen := make(map[model.Key]struct{}, len(recent)+len(patch.Observations))
	for _, o := range recent {
		seen[o.Key()] = struct{}{}
	}

	out := patch
	out.Observations = nil
	for _, o := range patch.Observations {
		if !o.Valid() {
			v.Malformed++
			continue
		}
		k := o.Key()
		if _, dup := seen[k]; dup {
			v.Duplicate++
			continue
		}
		seen[k] = struct{}{}
		out.Observations = append(out.Observations, o)
		v.Novel++
	}

	d.novel.Add(int64(v.Novel))
	d.duplicate.Add(int64(v.Duplicate))
	d.malformed.Add(int64(v.Malformed))

	return out, v
}

func (d *windowDeduper) Stats() Stats {
	return Stats{
		Patches:   d.patches.Load(),
		Noops:     d.noops.Load(),
		Novel:     d.novel.Load(),
		Duplicate: d.duplicate.Load(),
		Malformed: d.malformed.Load(),
	}
}
