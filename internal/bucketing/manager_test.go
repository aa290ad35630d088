package bucketing

import (
	"fmt"
	"testing"

	"rule-persistence/internal/models"
)

func TestShardFor_IsStableAndInRange(t *testing.T) {
	bm := NewBucketingManager(8)
	for i := 0; i < 200; i++ {
		name := fmt.Sprintf("rule-%d", i)
		first := bm.ShardFor(name)
		if first < 0 || first >= 8 {
			t.Fatalf("shard %d out of range for %s", first, name)
		}
		if again := bm.ShardFor(name); again != first {
			t.Fatalf("shard for %s changed from %d to %d", name, first, again)
		}
	}
}

func TestNewBucketingManager_ClampsShardCount(t *testing.T) {
	bm := NewBucketingManager(0)
	if bm.Shards() != 1 {
		t.Fatalf("expected 1 shard, got %d", bm.Shards())
	}
	if got := bm.ShardFor("login-fail"); got != 0 {
		t.Fatalf("expected shard 0, got %d", got)
	}
}

func TestPartition_KeepsEveryRuleOnceAndPreservesOrder(t *testing.T) {
	bm := NewBucketingManager(4)
	var rules []models.Rule
	for i := 0; i < 50; i++ {
		rules = append(rules, models.Rule{Name: fmt.Sprintf("rule-%02d", i), StatisticSpanSeconds: 1, Order: i})
	}

	shards := bm.Partition(rules)
	if len(shards) > 4 {
		t.Fatalf("expected at most 4 shards, got %d", len(shards))
	}

	seen := make(map[string]bool)
	for _, shard := range shards {
		if len(shard) == 0 {
			t.Fatal("partition returned an empty shard")
		}
		want := bm.ShardFor(shard[0].Name)
		for i, rule := range shard {
			if bm.ShardFor(rule.Name) != want {
				t.Fatalf("rule %s grouped with shard %d", rule.Name, want)
			}
			if i > 0 && shard[i-1].Order > rule.Order {
				t.Fatalf("shard order not preserved: %s before %s", shard[i-1].Name, rule.Name)
			}
			if seen[rule.Name] {
				t.Fatalf("rule %s appears twice", rule.Name)
			}
			seen[rule.Name] = true
		}
	}
	if len(seen) != len(rules) {
		t.Fatalf("expected %d rules, got %d", len(rules), len(seen))
	}
}

func TestPartition_Empty(t *testing.T) {
	if got := NewBucketingManager(4).Partition(nil); len(got) != 0 {
		t.Fatalf("expected no shards, got %d", len(got))
	}
}
