package scylla

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rule-persistence/internal/models"
	"rule-persistence/internal/util"
)

type ruleRepository struct {
	client *ScyllaClient
}

var _ RuleRepository = (*ruleRepository)(nil)

func NewRuleRepository(client *ScyllaClient) RuleRepository {
	return &ruleRepository{client: client}
}

func (r *ruleRepository) ListRules(ctx context.Context) ([]models.Rule, error) {
	iter := r.client.Query(ctx, r.client.Statements.ListRules).Iter()

	var (
		rules []models.Rule
		rule  models.Rule
	)
	for iter.Scan(&rule.Name, &rule.StatisticSpanSeconds, &rule.TimesCap, &rule.Order) {
		rules = append(rules, rule)
		rule = models.Rule{}
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to list rules", zap.Error(err))
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	return rules, nil
}
