package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/pkg/metrics"
)

// MemStore is a map-backed Store guarded by a RWMutex.
//
// Reads return deep copies so callers can never observe a half-applied patch
// or mutate stored history.
type MemStore struct {
	mu         sync.RWMutex
	byID       map[string]*model.Entity
	maxHistory int
	clock      clockwork.Clock
}

// NewMemStore constructs an empty store with configuration options.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		byID:       make(map[string]*model.Entity),
		maxHistory: DefaultMaxHistory,
		clock:      clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(s)
	}

	metrics.UpdateStoreEntities(0)
	return s
}

// MaxHistory returns the configured history bound.
func (s *MemStore) MaxHistory() int { return s.maxHistory }

// Get implements Store.Get.
func (s *MemStore) Get(ctx context.Context, id string) (model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return model.Entity{}, ErrNotFound
	}
	return e.Clone(), nil
}

// All implements Store.All.
func (s *MemStore) All(ctx context.Context) []model.Entity {
	s.mu.RLock()
	out := make([]model.Entity, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History implements Store.History.
func (s *MemStore) History(ctx context.Context, id string, k int) []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok || k <= 0 {
		return nil
	}
	n := min(k, len(e.History))
	out := make([]model.Observation, n)
	copy(out, e.History[:n])
	return out
}

// Count implements Store.Count.
func (s *MemStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Apply implements Store.Apply.
func (s *MemStore) Apply(ctx context.Context, patch model.EntityPatch) (ApplyResult, error) {
	if patch.ID == "" {
		metrics.RecordErrorByComponent("repository", "invalid_id")
		return ApplyResult{}, ErrInvalidID
	}

	start := time.Now()
	defer func() {
		metrics.RecordStoreApplyLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.Lock()
	e, ok := s.byID[patch.ID]
	created := !ok
	if created {
		e = &model.Entity{ID: patch.ID}
		s.byID[patch.ID] = e
	}

	changed := created
	if patch.Name != nil && *patch.Name != e.Name {
		e.Name = *patch.Name
		changed = true
	}
	if patch.IsOpen != nil && *patch.IsOpen != e.IsOpen {
		e.IsOpen = *patch.IsOpen
		changed = true
	}

	var added []model.Observation
	e.History, added = mergeHistory(e.History, patch.Observations, s.maxHistory)
	if len(added) > 0 {
		changed = true
	}

	now := s.clock.Now()
	if now.Before(e.LastSeenAt) {
		now = e.LastSeenAt
	}
	e.LastSeenAt = now
	if changed {
		e.LastUpdatedAt = now
	}

	res := ApplyResult{Entity: e.Clone(), Changed: changed, Created: created, Added: added}
	count := len(s.byID)
	s.mu.Unlock()

	if created {
		metrics.UpdateStoreEntities(count)
	}
	return res, nil
}

// mergeHistory inserts incoming into history (most-recent-first) by ObservedAt.
// Observations already present anywhere in history are skipped and existing
// entries sort before incoming ones on equal timestamps. The result is cut to
// limit by dropping the oldest. It returns the new history and the incoming
// observations that made it in.
func mergeHistory(history, incoming []model.Observation, limit int) ([]model.Observation, []model.Observation) {
	if len(incoming) == 0 {
		return history, nil
	}

	present := make(map[model.Key]struct{}, len(history)+len(incoming))
	for _, o := range history {
		present[o.Key()] = struct{}{}
	}

	fresh := make([]model.Observation, 0, len(incoming))
	for _, o := range incoming {
		k := o.Key()
		if _, dup := present[k]; dup {
			continue
		}
		present[k] = struct{}{}
		fresh = append(fresh, o)
	}
	if len(fresh) == 0 {
		return history, nil
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].ObservedAt.After(fresh[j].ObservedAt) })

	merged := make([]model.Observation, 0, min(len(history)+len(fresh), limit))
	inserted := make(map[model.Key]struct{}, len(fresh))
	i, j := 0, 0
	for len(merged) < limit && (i < len(history) || j < len(fresh)) {
		switch {
		case j >= len(fresh):
			merged = append(merged, history[i])
			i++
		case i >= len(history) || fresh[j].ObservedAt.After(history[i].ObservedAt):
			merged = append(merged, fresh[j])
			inserted[fresh[j].Key()] = struct{}{}
			j++
		default:
			merged = append(merged, history[i])
			i++
		}
	}

	var added []model.Observation
	for _, o := range fresh {
		if _, ok := inserted[o.Key()]; ok {
			added = append(added, o)
		}
	}
	return merged, added
}
