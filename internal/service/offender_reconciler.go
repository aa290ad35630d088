package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rule-persistence/internal/models"
	"rule-persistence/internal/publisher"
	redisrepo "rule-persistence/internal/repository/redis"
	"rule-persistence/internal/util"
)

// DefaultPruneTimeout bounds the blacklist prune when no timeout is configured.
const DefaultPruneTimeout = 5 * time.Second

// saveReserveDivisor sets aside 1/n of the remaining deadline for SaveAll
// once existence checks stop.
const saveReserveDivisor = 4

// OffenderReconciler copies a rule's blacklist into durable storage and
// prunes expired entries from Redis.
type OffenderReconciler struct {
	offenders    OffenderStore
	repo         OffenderSink
	publisher    publisher.OffenderPublisher
	keys         redisrepo.KeyBuilder
	limiter      *rate.Limiter
	pruneTimeout time.Duration
	metrics      *Metrics

	// cursors holds, per rule, the last blacklist entry checked by a pass
	// that ran out of budget. The next pass resumes after it.
	cursors sync.Map
}

// NewOffenderReconciler builds a reconciler. checkQPS <= 0 disables the
// existence-check throttle; pub may be nil.
func NewOffenderReconciler(
	offenders OffenderStore,
	repo OffenderSink,
	pub publisher.OffenderPublisher,
	keys redisrepo.KeyBuilder,
	checkQPS float64,
	pruneTimeout time.Duration,
	metrics *Metrics,
) *OffenderReconciler {
	var limiter *rate.Limiter
	if checkQPS > 0 {
		burst := int(checkQPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(checkQPS), burst)
	}
	if pruneTimeout <= 0 {
		pruneTimeout = DefaultPruneTimeout
	}
	return &OffenderReconciler{
		offenders:    offenders,
		repo:         repo,
		publisher:    pub,
		keys:         keys,
		limiter:      limiter,
		pruneTimeout: pruneTimeout,
		metrics:      metrics,
	}
}

// Reconcile persists blacklist entries not yet stored durably, then removes
// every entry whose expiry score is at or before now. Pruning runs on its own
// deadline, detached from ctx, so a hung durable store cannot starve it.
func (r *OffenderReconciler) Reconcile(ctx context.Context, rule models.Rule, now time.Time) (persisted, pruned int64, err error) {
	now = now.UTC().Truncate(time.Second)
	key := r.keys.OffenderSet(rule.Name)

	persisted, persistErr := r.persist(ctx, rule, key, now)

	pruneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.pruneTimeout)
	defer cancel()

	pruned, pruneErr := r.offenders.RemoveExpired(pruneCtx, key, now.Unix())
	if pruneErr != nil {
		pruneErr = fmt.Errorf("%w: prune %s: %w", ErrStoreUnavailable, rule.Name, pruneErr)
	} else {
		r.metrics.OffendersPruned.WithLabelValues(rule.Name).Add(float64(pruned))
	}

	return persisted, pruned, errors.Join(persistErr, pruneErr)
}

func (r *OffenderReconciler) persist(ctx context.Context, rule models.Rule, key string, now time.Time) (int64, error) {
	entries, err := r.offenders.Offenders(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(entries) == 0 {
		r.cursors.Delete(rule.Name)
		return 0, nil
	}

	fresh, checked, checkErr := r.collectFresh(ctx, rule, entries, now)

	util.Info("persist offender size",
		util.String("rule", rule.Name),
		util.Int("blacklist", len(entries)),
		util.Int("checked", checked),
		util.Int("new", len(fresh)))

	if checkErr != nil {
		checkErr = fmt.Errorf("%w: offenders of %s, checked %d of %d: %w",
			ErrPartialPersist, rule.Name, checked, len(entries), checkErr)
	}
	if len(fresh) == 0 {
		return 0, checkErr
	}

	saved, err := r.repo.SaveAll(ctx, fresh)
	r.metrics.OffendersPersisted.WithLabelValues(rule.Name).Add(float64(saved))
	r.publish(ctx, rule, fresh[:saved])
	if err != nil {
		err = fmt.Errorf("%w: offenders of %s, saved %d of %d: %w",
			ErrPartialPersist, rule.Name, saved, len(fresh), err)
	}

	return int64(saved), errors.Join(checkErr, err)
}

// collectFresh runs existence checks starting after the rule's cursor and
// wrapping around the blacklist. It stops at the first throttle or store
// error, or when the check budget is spent, and returns what it gathered.
func (r *OffenderReconciler) collectFresh(
	ctx context.Context,
	rule models.Rule,
	entries []models.ScoredMember,
	now time.Time,
) (fresh []models.OffenderRecord, checked int, err error) {
	checkCtx, cancel := checkContext(ctx)
	defer cancel()

	start := r.resumeIndex(rule.Name, entries)
	fresh = make([]models.OffenderRecord, 0, len(entries))

	for ; checked < len(entries); checked++ {
		entry := entries[(start+checked)%len(entries)]
		candidate := models.OffenderRecord{
			RuleName:   rule.Name,
			Sample:     entry.Member,
			RejectTime: int64(entry.Score),
		}

		if r.limiter != nil {
			if werr := r.limiter.Wait(checkCtx); werr != nil {
				err = fmt.Errorf("existence check throttle: %w", werr)
				break
			}
		}

		exists, xerr := r.repo.Exists(checkCtx, candidate.Key())
		if xerr != nil {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, xerr)
			break
		}
		if exists {
			continue
		}

		candidate.AddedAt = now
		fresh = append(fresh, candidate)
	}

	switch {
	case checked == len(entries):
		r.cursors.Delete(rule.Name)
	case checked > 0:
		last := entries[(start+checked-1)%len(entries)]
		r.cursors.Store(rule.Name, last)
	}
	return fresh, checked, err
}

// resumeIndex returns the position of the first entry ordered after the
// rule's cursor. Entries arrive sorted by score, then member.
func (r *OffenderReconciler) resumeIndex(rule string, entries []models.ScoredMember) int {
	v, ok := r.cursors.Load(rule)
	if !ok {
		return 0
	}
	last := v.(models.ScoredMember)
	idx := sort.Search(len(entries), func(i int) bool {
		e := entries[i]
		return e.Score > last.Score || (e.Score == last.Score && e.Member > last.Member)
	})
	if idx == len(entries) {
		return 0
	}
	return idx
}

// checkContext trims the deadline of ctx so SaveAll still has time once
// existence checks give up.
func checkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	remaining := time.Until(deadline)
	return context.WithTimeout(ctx, remaining-remaining/saveReserveDivisor)
}

// publish is best-effort; durable storage is already authoritative.
func (r *OffenderReconciler) publish(ctx context.Context, rule models.Rule, records []models.OffenderRecord) {
	if r.publisher == nil || len(records) == 0 {
		return
	}
	if err := r.publisher.PublishOffenders(ctx, records); err != nil {
		r.metrics.PublishFailures.WithLabelValues(rule.Name).Inc()
		util.Warn("Failed to publish offender events",
			util.String("rule", rule.Name),
			util.Int("records", len(records)),
			util.ErrorField(err))
	}
}
