package redis

import (
	"errors"
	"testing"
	"time"
)

func TestKeyBuilder_Keys(t *testing.T) {
	kb := NewKeyBuilder("doorgod:")
	now := time.Date(2024, 3, 1, 20, 0, 5, 0, time.FixedZone("UTC+8", 8*3600))

	if got := kb.SecondBucket("login-fail", now); got != "doorgod:login-fail:20240301120005" {
		t.Fatalf("unexpected second bucket %q", got)
	}
	if got := kb.UnionBucket("login-fail", now); got != "doorgod:login-fail:20240301120005:union" {
		t.Fatalf("unexpected union bucket %q", got)
	}
	if got := kb.OffenderSet("login-fail"); got != "doorgod:login-fail:offenders" {
		t.Fatalf("unexpected offender set %q", got)
	}
	if got := NewKeyBuilder("").OffenderSet("r"); got != "r:offenders" {
		t.Fatalf("unexpected unprefixed key %q", got)
	}
}

func TestWindowBucketKeys_OldestFirstExcludingCurrentSecond(t *testing.T) {
	kb := NewKeyBuilder("doorgod")
	now := time.Date(2024, 3, 1, 12, 0, 0, 300_000_000, time.UTC)

	keys, err := kb.WindowBucketKeys("login-fail", now, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"doorgod:login-fail:20240301115957",
		"doorgod:login-fail:20240301115958",
		"doorgod:login-fail:20240301115959",
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d: want %s, got %s", i, want[i], keys[i])
		}
	}
}

func TestWindowBucketKeys_InvalidSpan(t *testing.T) {
	for _, span := range []int{0, -1} {
		if _, err := NewKeyBuilder("doorgod").WindowBucketKeys("r", time.Now(), span); !errors.Is(err, ErrInvalidSpan) {
			t.Fatalf("span %d: expected ErrInvalidSpan, got %v", span, err)
		}
	}
}
