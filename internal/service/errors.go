package service

import (
	"context"
	"errors"

	redisrepo "rule-persistence/internal/repository/redis"
)

var (
	ErrInvalidRuleConfig = errors.New("invalid rule configuration")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrPartialPersist    = errors.New("partial persist failure")
	ErrTickInProgress    = errors.New("tick already in progress")

	ErrInvalidSpan = redisrepo.ErrInvalidSpan
)

// errorKind maps an error to a low-cardinality label for logs and metrics.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRuleConfig):
		return "invalid_rule_config"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrPartialPersist):
		return "partial_persist"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "unknown"
	}
}
