package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper suppresses at-least-once redeliveries of change-feed batches.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup lock for a given stream + batch id.
// It returns true the first time a batch is seen, false for a redelivery.
func (d *Deduper) AcquireOnce(ctx context.Context, stream, batchID string) bool {
	key := fmt.Sprintf("dedup:%s:%s", stream, batchID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// When redis is unavailable, allow processing rather than dropping
		// the batch; the reconciler is idempotent against duplicates anyway.
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("stream", stream),
				zap.String("batch_id", batchID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated batch",
			zap.String("stream", stream),
			zap.String("batch_id", batchID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}
