package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rule-persistence/internal/client"
	"rule-persistence/internal/models"
	"rule-persistence/internal/util"
)

// WindowCache merges per-second counter sets into union buckets.
type WindowCache struct {
	client *client.RedisClient
}

func NewWindowCache(client *client.RedisClient) *WindowCache {
	return &WindowCache{client: client}
}

// UnionAndStore writes the score-summing union of sources into dest and sets
// its TTL in the same transaction. It returns the cardinality of dest.
func (c *WindowCache) UnionAndStore(ctx context.Context, dest string, sources []string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	union := pipe.ZUnionStore(ctx, dest, &goredis.ZStore{Keys: sources, Aggregate: "SUM"})
	pipe.Expire(ctx, dest, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to union window buckets",
			zap.String("dest", dest),
			zap.Int("sources", len(sources)),
			zap.Error(err))
		return 0, fmt.Errorf("failed to union window buckets: %w", err)
	}

	util.Debug("Window buckets merged",
		zap.String("dest", dest),
		zap.Int64("members", union.Val()),
		zap.Duration("ttl", ttl))

	return union.Val(), nil
}

// RangeFrom returns the members of key from rank start to the end, lowest
// score first.
func (c *WindowCache) RangeFrom(ctx context.Context, key string, start int64) ([]models.ScoredMember, error) {
	zs, err := c.client.ZRangeWithScores(ctx, key, start, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to range %s: %w", key, err)
	}
	return toScored(zs), nil
}
