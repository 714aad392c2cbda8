// Package repository holds the authoritative in-memory entity state.
package repository

import (
	"context"

	"github.com/okian/livetables/internal/domain/model"
)

// ApplyResult describes the outcome of merging one patch.
type ApplyResult struct {
	Entity  model.Entity
	Changed bool
	Created bool
	// Added holds the observations that were inserted and survived truncation,
	// most-recent-first.
	Added []model.Observation
}

// Store provides read/write access to entity state.
type Store interface {
	// Get returns a copy of the entity.
	// Returns ErrNotFound if the id was never seen.
	Get(ctx context.Context, id string) (model.Entity, error)

	// All returns copies of every entity ordered by id.
	All(ctx context.Context) []model.Entity

	// History returns up to k most recent observations of id, most-recent-first.
	History(ctx context.Context, id string, k int) []model.Observation

	// Apply merges patch into the entity with patch.ID, creating it on first sighting.
	// Non-nil fields overwrite; observations are merge-inserted by ObservedAt.
	// Returns ErrInvalidID when patch.ID is empty.
	Apply(ctx context.Context, patch model.EntityPatch) (ApplyResult, error)

	// Count returns the number of entities tracked.
	Count(ctx context.Context) int
}
