package models

// ScoredMember is one sorted-set entry read back from Redis.
type ScoredMember struct {
	Member string
	Score  float64
}
