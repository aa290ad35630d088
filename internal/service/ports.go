package service

import (
	"context"
	"time"

	"rule-persistence/internal/models"
)

// WindowStore is the sorted-set surface the aggregator needs. It is
// implemented by the Redis window cache.
type WindowStore interface {
	UnionAndStore(ctx context.Context, dest string, sources []string, ttl time.Duration) (int64, error)
	RangeFrom(ctx context.Context, key string, start int64) ([]models.ScoredMember, error)
}

// OffenderStore reads and prunes a rule's blacklist.
type OffenderStore interface {
	Offenders(ctx context.Context, key string) ([]models.ScoredMember, error)
	RemoveExpired(ctx context.Context, key string, until int64) (int64, error)
}

// SampleSink appends sample records to the analytics store.
type SampleSink interface {
	SaveSamples(ctx context.Context, records []models.SampleRecord) error
}

// OffenderSink is the durable offender store.
type OffenderSink interface {
	Exists(ctx context.Context, key models.OffenderKey) (bool, error)
	SaveAll(ctx context.Context, records []models.OffenderRecord) (int, error)
}

// Clock returns the current time.
type Clock func() time.Time
