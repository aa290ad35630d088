package redis

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeBucketLayout is the fixed-width second resolution suffix shared with the
// decision path that writes the per-second buckets.
const TimeBucketLayout = "20060102150405"

const (
	unionSuffix    = "union"
	offenderSuffix = "offenders"
)

var ErrInvalidSpan = errors.New("statistic span must be at least one second")

// KeyBuilder derives every Redis key the job touches from a rule name.
type KeyBuilder struct {
	prefix string
}

func NewKeyBuilder(prefix string) KeyBuilder {
	return KeyBuilder{prefix: strings.Trim(prefix, ":")}
}

func (k KeyBuilder) join(parts ...string) string {
	if k.prefix == "" {
		return strings.Join(parts, ":")
	}
	return k.prefix + ":" + strings.Join(parts, ":")
}

// SecondBucket is the per-second counter set of rule for the second holding t.
func (k KeyBuilder) SecondBucket(rule string, t time.Time) string {
	return k.join(rule, t.UTC().Format(TimeBucketLayout))
}

// UnionBucket is the merged window set produced by the tick at now.
func (k KeyBuilder) UnionBucket(rule string, now time.Time) string {
	return k.join(rule, now.UTC().Format(TimeBucketLayout), unionSuffix)
}

// OffenderSet is the blacklist of rule; scores are expiry epoch seconds.
func (k KeyBuilder) OffenderSet(rule string) string {
	return k.join(rule, offenderSuffix)
}

// WindowBucketKeys lists the span per-second buckets preceding now, oldest
// first. The second holding now is still filling and is not included.
func (k KeyBuilder) WindowBucketKeys(rule string, now time.Time, span int) ([]string, error) {
	if span < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSpan, span)
	}
	now = now.Truncate(time.Second)
	keys := make([]string, 0, span)
	for second := span; second >= 1; second-- {
		keys = append(keys, k.SecondBucket(rule, now.Add(-time.Duration(second)*time.Second)))
	}
	return keys, nil
}
