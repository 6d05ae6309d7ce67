package counter

import (
	"context"

	"github.com/subsyncd/subsyncd/internal/pkg/cache"
)

const (
	outcomeKey   = "billing:counters:outcomes"
	reconcileKey = "billing:counters:reconcile"
)

// Outcome counter fields consumed by the ops surface.
const (
	FieldProcessed = "processed"
	FieldFailed    = "failed"
	FieldStale     = "stale"
	FieldDuplicate = "duplicate"
	FieldRejected  = "rejected"
	FieldInFlight  = "in_flight"
)

// AddOutcome increments one outcome counter field in Redis.
func AddOutcome(field string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, outcomeKey, field, 1).Err()
}

// AddReconcilePass accumulates the counters of one reconciliation pass.
func AddReconcilePass(created, updated, unchanged, flagged, failed int, partial bool) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	pipe := rdb.Pipeline()
	pipe.HIncrBy(ctx, reconcileKey, "passes", 1)
	pipe.HIncrBy(ctx, reconcileKey, "created", int64(created))
	pipe.HIncrBy(ctx, reconcileKey, "updated", int64(updated))
	pipe.HIncrBy(ctx, reconcileKey, "unchanged", int64(unchanged))
	pipe.HIncrBy(ctx, reconcileKey, "flagged", int64(flagged))
	pipe.HIncrBy(ctx, reconcileKey, "failed", int64(failed))
	if partial {
		pipe.HIncrBy(ctx, reconcileKey, "partial_passes", 1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// OutcomeSnapshot returns the current event outcome counters.
func OutcomeSnapshot() (map[string]string, error) {
	ctx := context.Background()
	return cache.GetClient().HGetAll(ctx, outcomeKey).Result()
}

// ReconcileSnapshot returns the accumulated reconciliation counters.
func ReconcileSnapshot() (map[string]string, error) {
	ctx := context.Background()
	return cache.GetClient().HGetAll(ctx, reconcileKey).Result()
}
