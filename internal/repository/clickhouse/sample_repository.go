package clickhouse

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rule-persistence/internal/client"
	"rule-persistence/internal/models"
	"rule-persistence/internal/util"
)

const createSamplesTable = `
CREATE TABLE IF NOT EXISTS rule_samples (
    id          UUID,
    rule_name   LowCardinality(String),
    sample      String,
    count       Float64,
    observed_at DateTime('UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(observed_at)
ORDER BY (rule_name, observed_at, sample)`

const insertSamples = `INSERT INTO rule_samples (id, rule_name, sample, count, observed_at)`

// Executor is the part of ClickHouseClient the repository needs.
type Executor interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

var _ Executor = (*client.ClickHouseClient)(nil)

// SampleRepository appends merged window samples to ClickHouse.
type SampleRepository struct {
	exec Executor
}

func NewSampleRepository(exec Executor) *SampleRepository {
	return &SampleRepository{exec: exec}
}

// EnsureSchema creates the samples table when it does not exist yet.
func (r *SampleRepository) EnsureSchema(ctx context.Context) error {
	if err := r.exec.Exec(ctx, createSamplesTable); err != nil {
		return fmt.Errorf("failed to create rule_samples table: %w", err)
	}
	return nil
}

// SaveSamples appends records in one block. Records without an ID get one.
func (r *SampleRepository) SaveSamples(ctx context.Context, records []models.SampleRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(records))
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
		id, err := uuid.Parse(records[i].ID)
		if err != nil {
			return fmt.Errorf("invalid sample id %q: %w", records[i].ID, err)
		}
		rows = append(rows, []interface{}{
			id,
			records[i].RuleName,
			records[i].Sample,
			records[i].Count,
			records[i].ObservedAt.UTC(),
		})
	}

	if err := r.exec.BatchInsert(ctx, insertSamples, rows); err != nil {
		util.Error("Failed to save samples",
			zap.String("rule", records[0].RuleName),
			zap.Int("count", len(records)),
			zap.Error(err))
		return fmt.Errorf("failed to save samples: %w", err)
	}

	util.Debug("Samples saved",
		zap.String("rule", records[0].RuleName),
		zap.Int("count", len(records)))

	return nil
}
