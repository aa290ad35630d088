package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"rule-persistence/internal/models"
	"rule-persistence/internal/util"
)

const defaultOffenderBatchSize = 100

type offenderRepository struct {
	client    *ScyllaClient
	batchSize int
}

var _ OffenderRepository = (*offenderRepository)(nil)

func NewOffenderRepository(client *ScyllaClient, batchSize int) OffenderRepository {
	if batchSize <= 0 {
		batchSize = defaultOffenderBatchSize
	}
	return &offenderRepository{client: client, batchSize: batchSize}
}

func (r *offenderRepository) Exists(ctx context.Context, key models.OffenderKey) (bool, error) {
	var addedAt time.Time
	err := r.client.Query(ctx, r.client.Statements.GetOffender,
		key.RuleName, key.Sample, key.RejectTime).Scan(&addedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return false, nil
		}
		util.Error("Failed to look up offender",
			zap.String("rule", key.RuleName),
			zap.String("sample", key.Sample),
			zap.Int64("reject_time", key.RejectTime),
			zap.Error(err))
		return false, fmt.Errorf("failed to look up offender: %w", err)
	}
	return true, nil
}

// SaveAll writes records in unlogged batches of batchSize. Callers pass the
// records of a single rule, so each batch targets one partition. The returned
// count covers the batches that succeeded before an error.
func (r *offenderRepository) SaveAll(ctx context.Context, records []models.OffenderRecord) (int, error) {
	saved := 0
	for start := 0; start < len(records); start += r.batchSize {
		end := start + r.batchSize
		if end > len(records) {
			end = len(records)
		}

		batch := r.client.Batch(ctx, gocql.UnloggedBatch)
		for _, rec := range records[start:end] {
			batch.Query(r.client.Statements.InsertOffender,
				rec.RuleName, rec.Sample, rec.RejectTime, rec.AddedAt.UTC())
		}

		if err := r.client.ExecuteBatch(batch); err != nil {
			util.Error("Failed to save offender batch",
				zap.String("rule", records[start].RuleName),
				zap.Int("batch_size", end-start),
				zap.Int("saved", saved),
				zap.Error(err))
			return saved, fmt.Errorf("failed to save offenders: %w", err)
		}
		saved += end - start
	}

	if saved > 0 {
		util.Debug("Offenders saved",
			zap.String("rule", records[0].RuleName),
			zap.Int("count", saved))
	}
	return saved, nil
}

func (r *offenderRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
