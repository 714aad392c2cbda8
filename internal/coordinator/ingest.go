package coordinator

import (
	"context"

	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/pkg/logger"
	"github.com/okian/livetables/pkg/metrics"
)

// Ingest filters batch through the deduplicator, applies it to the store and
// publishes the resulting changes. It returns the number of changed entities.
// Batches are applied one at a time in the order they arrive. A batch counts
// as accepted for the health check when at least one entity in it was
// well-formed and applied, even if nothing in it was new; an empty or wholly
// malformed batch does not.
func (c *Coordinator) Ingest(ctx context.Context, batch model.UpdateBatch) int { //nolint:gocritic // hugeParam
	source := string(batch.Source)
	metrics.RecordBatchReceived(source)
	c.batches.Add(1)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var (
		changes []model.Change
		applied int
	)
	for _, patch := range batch.Entities {
		known := c.store.History(ctx, patch.ID, c.deduper.Window())
		filtered, v := c.deduper.Filter(known, patch)

		metrics.RecordObservations("novel", v.Novel)
		metrics.RecordObservations("duplicate", v.Duplicate)
		metrics.RecordObservations("malformed", v.Malformed)
		if v.Noop {
			metrics.RecordEntityMalformed()
			c.logger.Debug(ctx, "entity without id dropped", logger.String("source", source))
			continue
		}

		res, err := c.store.Apply(ctx, filtered)
		if err != nil {
			c.logger.Warn(ctx, "apply failed", logger.String("entity", patch.ID), logger.Error(err))
			continue
		}
		applied++
		if res.Changed {
			changes = append(changes, model.Change{
				Entity:          res.Entity,
				Created:         res.Created,
				NewObservations: res.Added,
				Source:          batch.Source,
			})
		}
	}

	now := c.clock.Now()
	if applied > 0 {
		c.mu.Lock()
		c.lastAccepted = now
		c.mu.Unlock()
		metrics.UpdateLastAccepted(now)
	}

	if len(changes) == 0 {
		return 0
	}

	c.changes.Add(int64(len(changes)))
	metrics.RecordEntitiesChanged(source, len(changes))
	if c.publisher != nil {
		c.publisher.Publish(ctx, changes, now)
	}
	return len(changes)
}
