package redis

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"rule-persistence/internal/client"
	"rule-persistence/internal/models"
	"rule-persistence/internal/util"
)

// OffenderCache reads and prunes the per-rule blacklist sorted sets.
type OffenderCache struct {
	client *client.RedisClient
}

func NewOffenderCache(client *client.RedisClient) *OffenderCache {
	return &OffenderCache{client: client}
}

// Offenders returns every blacklist entry of key, expired ones included.
func (c *OffenderCache) Offenders(ctx context.Context, key string) ([]models.ScoredMember, error) {
	zs, err := c.client.ZRangeWithScores(ctx, key, 0, -1)
	if err != nil {
		util.Error("Failed to read offenders", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to read offenders: %w", err)
	}
	return toScored(zs), nil
}

// RemoveExpired deletes entries whose expiry score is at or before until.
func (c *OffenderCache) RemoveExpired(ctx context.Context, key string, until int64) (int64, error) {
	removed, err := c.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(until, 10))
	if err != nil {
		util.Error("Failed to prune expired offenders",
			zap.String("key", key),
			zap.Int64("until", until),
			zap.Error(err))
		return 0, fmt.Errorf("failed to prune expired offenders: %w", err)
	}

	util.Debug("Expired offenders pruned",
		zap.String("key", key),
		zap.Int64("removed", removed))

	return removed, nil
}
