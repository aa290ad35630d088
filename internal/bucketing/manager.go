package bucketing

import (
	"hash"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"

	"rule-persistence/internal/models"
)

// BucketingManager assigns rules to a fixed number of shards. A rule always
// lands on the same shard for a given shard count.
type BucketingManager struct {
	shards     int
	hasherPool sync.Pool
}

func NewBucketingManager(shards int) *BucketingManager {
	if shards < 1 {
		shards = 1
	}
	bm := &BucketingManager{shards: shards}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// ShardFor returns the shard (0 to shards-1) owning ruleName.
func (bm *BucketingManager) ShardFor(ruleName string) int {
	return int(bm.getHash(ruleName) % uint64(bm.shards))
}

// Partition groups rules by shard, dropping empty shards. Rules keep their
// input order inside a shard and shards are returned in ascending index.
func (bm *BucketingManager) Partition(rules []models.Rule) [][]models.Rule {
	byShard := make(map[int][]models.Rule)
	for _, rule := range rules {
		shard := bm.ShardFor(rule.Name)
		byShard[shard] = append(byShard[shard], rule)
	}

	indexes := make([]int, 0, len(byShard))
	for shard := range byShard {
		indexes = append(indexes, shard)
	}
	sort.Ints(indexes)

	out := make([][]models.Rule, 0, len(indexes))
	for _, shard := range indexes {
		out = append(out, byShard[shard])
	}
	return out
}

// Shards returns the configured shard count
func (bm *BucketingManager) Shards() int {
	return bm.shards
}

func (bm *BucketingManager) getHash(key string) uint64 {
	// Get hasher from pool
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	// Reset hasher for reuse
	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
