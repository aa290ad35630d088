package service

import (
	"context"
	"fmt"
	"time"

	"rule-persistence/internal/models"
	redisrepo "rule-persistence/internal/repository/redis"
	"rule-persistence/internal/util"
)

// WindowAggregator merges a rule's per-second buckets into one union and
// persists the high-count tail of it.
type WindowAggregator struct {
	windows WindowStore
	samples SampleSink
	keys    redisrepo.KeyBuilder
	topN    int64
	ttl     time.Duration
	metrics *Metrics
}

func NewWindowAggregator(
	windows WindowStore,
	samples SampleSink,
	keys redisrepo.KeyBuilder,
	topN int64,
	ttl time.Duration,
	metrics *Metrics,
) *WindowAggregator {
	if topN < 0 {
		topN = 0
	}
	return &WindowAggregator{
		windows: windows,
		samples: samples,
		keys:    keys,
		topN:    topN,
		ttl:     ttl,
		metrics: metrics,
	}
}

// AggregateAndPersist unions the rule's window into a union bucket that
// expires after the configured TTL, then appends every member ranked at or
// beyond topN (ascending by count) as a SampleRecord stamped with now. It
// returns the cardinality of the union.
//
// A sink failure leaves the union in place; the next tick recomputes it from
// the per-second buckets still present.
func (a *WindowAggregator) AggregateAndPersist(ctx context.Context, rule models.Rule, now time.Time) (int64, error) {
	now = now.UTC().Truncate(time.Second)

	sources, err := a.keys.WindowBucketKeys(rule.Name, now, rule.StatisticSpanSeconds)
	if err != nil {
		return 0, fmt.Errorf("%w: rule %s: %w", ErrInvalidRuleConfig, rule.Name, err)
	}

	union := a.keys.UnionBucket(rule.Name, now)
	merged, err := a.windows.UnionAndStore(ctx, union, sources, a.ttl)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	a.metrics.WindowMerged.WithLabelValues(rule.Name).Add(float64(merged))

	tail, err := a.windows.RangeFrom(ctx, union, a.topN)
	if err != nil {
		return merged, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	util.Info("persist union sample size",
		util.String("rule", rule.Name),
		util.Int64("merged", merged),
		util.Int("persist", len(tail)))

	if len(tail) == 0 {
		return merged, nil
	}

	records := make([]models.SampleRecord, 0, len(tail))
	for _, m := range tail {
		records = append(records, models.SampleRecord{
			RuleName:   rule.Name,
			Sample:     m.Member,
			Count:      m.Score,
			ObservedAt: now,
		})
	}

	if err := a.samples.SaveSamples(ctx, records); err != nil {
		return merged, fmt.Errorf("%w: samples of %s: %w", ErrPartialPersist, rule.Name, err)
	}
	a.metrics.SamplesPersisted.WithLabelValues(rule.Name).Add(float64(len(records)))

	return merged, nil
}
