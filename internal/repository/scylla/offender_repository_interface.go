package scylla

import (
	"context"

	"rule-persistence/internal/models"
)

// OffenderRepository defines the durable offender operations
type OffenderRepository interface {
	// Exists reports whether a record with the same rule, sample and reject
	// time is already stored. Zero matches is not an error.
	Exists(ctx context.Context, key models.OffenderKey) (bool, error)
	// SaveAll inserts records in batches and returns how many were written.
	SaveAll(ctx context.Context, records []models.OffenderRecord) (int, error)

	HealthCheck(ctx context.Context) error
}

// RuleRepository loads rule definitions owned by the rule registry.
type RuleRepository interface {
	ListRules(ctx context.Context) ([]models.Rule, error)
}
