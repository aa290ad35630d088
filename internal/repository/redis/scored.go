package redis

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"rule-persistence/internal/models"
)

func toScored(zs []goredis.Z) []models.ScoredMember {
	out := make([]models.ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		out = append(out, models.ScoredMember{Member: member, Score: z.Score})
	}
	return out
}
