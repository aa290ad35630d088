package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rule-persistence/internal/bucketing"
	"rule-persistence/internal/models"
	"rule-persistence/internal/rules"
	"rule-persistence/internal/util"
)

// Aggregator and Reconciler are the two per-rule phases of a tick.
type Aggregator interface {
	AggregateAndPersist(ctx context.Context, rule models.Rule, now time.Time) (int64, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, rule models.Rule, now time.Time) (persisted, pruned int64, err error)
}

// RuleOutcome is the result of both phases for one rule.
type RuleOutcome struct {
	Rule               string        `json:"rule"`
	Shard              int           `json:"shard"`
	Merged             int64         `json:"merged"`
	OffendersPersisted int64         `json:"offenders_persisted"`
	OffendersPruned    int64         `json:"offenders_pruned"`
	AggregateError     string        `json:"aggregate_error,omitempty"`
	ReconcileError     string        `json:"reconcile_error,omitempty"`
	Duration           time.Duration `json:"duration_ns"`
}

func (o RuleOutcome) Failed() bool {
	return o.AggregateError != "" || o.ReconcileError != ""
}

// TickReport summarises one tick. Rules are listed in snapshot order.
type TickReport struct {
	TickID          string        `json:"tick_id"`
	Now             time.Time     `json:"now"`
	SnapshotVersion uint64        `json:"snapshot_version"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Rules           []RuleOutcome `json:"rules"`
	Failed          int           `json:"failed"`
}

type TickOrchestrator struct {
	registry    *rules.Registry
	aggregator  Aggregator
	reconciler  Reconciler
	buckets     *bucketing.BucketingManager
	workers     int
	ruleTimeout time.Duration
	clock       Clock
	metrics     *Metrics

	running sync.Mutex
	last    atomic.Pointer[TickReport]
}

func NewTickOrchestrator(
	registry *rules.Registry,
	aggregator Aggregator,
	reconciler Reconciler,
	buckets *bucketing.BucketingManager,
	workers int,
	ruleTimeout time.Duration,
	clock Clock,
	metrics *Metrics,
) *TickOrchestrator {
	if workers < 1 {
		workers = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &TickOrchestrator{
		registry:    registry,
		aggregator:  aggregator,
		reconciler:  reconciler,
		buckets:     buckets,
		workers:     workers,
		ruleTimeout: ruleTimeout,
		clock:       clock,
		metrics:     metrics,
	}
}

// Execute runs one tick at the current time. It returns ErrTickInProgress
// instead of overlapping a tick that is still running.
func (o *TickOrchestrator) Execute(ctx context.Context) (TickReport, error) {
	if !o.running.TryLock() {
		return TickReport{}, ErrTickInProgress
	}
	defer o.running.Unlock()

	return o.RunTick(ctx, o.clock()), nil
}

// RunTick processes every rule of one registry snapshot with a shared now.
// Rules are spread over shards that run concurrently; inside a shard rules
// run one after another. A rule's failure is recorded in the report and
// never stops the others.
func (o *TickOrchestrator) RunTick(ctx context.Context, now time.Time) TickReport {
	now = now.UTC().Truncate(time.Second)
	snapshot := o.registry.Snapshot()
	ruleSet := snapshot.Rules()

	report := TickReport{
		TickID:          uuid.NewString(),
		Now:             now,
		SnapshotVersion: snapshot.Version(),
		StartedAt:       time.Now().UTC(),
		Rules:           make([]RuleOutcome, len(ruleSet)),
	}

	util.Info("Rule persistence tick started",
		util.String("tick_id", report.TickID),
		util.String("now", now.Format("20060102150405")),
		util.Int("rules", len(ruleSet)))

	position := make(map[string]int, len(ruleSet))
	for i, rule := range ruleSet {
		position[rule.Name] = i
	}

	var g errgroup.Group
	g.SetLimit(o.workers)
	for _, shard := range o.buckets.Partition(ruleSet) {
		shard := shard
		g.Go(func() error {
			for _, rule := range shard {
				outcome := o.runRule(ctx, rule, now)
				outcome.Shard = o.buckets.ShardFor(rule.Name)
				report.Rules[position[rule.Name]] = outcome
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, outcome := range report.Rules {
		if outcome.Failed() {
			report.Failed++
		}
	}
	report.FinishedAt = time.Now().UTC()

	elapsed := report.FinishedAt.Sub(report.StartedAt)
	o.metrics.TickDuration.Observe(elapsed.Seconds())
	o.metrics.LastTickTimestamp.Set(float64(now.Unix()))
	o.last.Store(&report)

	util.Info("Rule persistence tick finished",
		util.String("tick_id", report.TickID),
		util.Int("rules", len(report.Rules)),
		util.Int("failed", report.Failed),
		util.Duration("elapsed", elapsed))

	return report
}

// LastReport returns the report of the most recent finished tick.
func (o *TickOrchestrator) LastReport() (TickReport, bool) {
	report := o.last.Load()
	if report == nil {
		return TickReport{}, false
	}
	return *report, true
}

func (o *TickOrchestrator) runRule(ctx context.Context, rule models.Rule, now time.Time) (outcome RuleOutcome) {
	start := time.Now()
	outcome.Rule = rule.Name
	defer func() {
		outcome.Duration = time.Since(start)
	}()

	err := o.phase(ctx, rule, "aggregate", func(ctx context.Context) error {
		var err error
		outcome.Merged, err = o.aggregator.AggregateAndPersist(ctx, rule, now)
		return err
	})
	if err != nil {
		outcome.AggregateError = err.Error()
	}

	err = o.phase(ctx, rule, "reconcile", func(ctx context.Context) error {
		var err error
		outcome.OffendersPersisted, outcome.OffendersPruned, err = o.reconciler.Reconcile(ctx, rule, now)
		return err
	})
	if err != nil {
		outcome.ReconcileError = err.Error()
	}

	return outcome
}

// phase runs fn under the per-rule timeout, turning a panic into an error so
// one rule cannot take down the tick.
func (o *TickOrchestrator) phase(ctx context.Context, rule models.Rule, name string, fn func(context.Context) error) (err error) {
	if o.ruleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.ruleTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s phase: %v", name, p)
		}
		if err != nil {
			kind := errorKind(err)
			o.metrics.RuleFailures.WithLabelValues(rule.Name, name, kind).Inc()
			util.Error("Rule phase failed",
				util.String("rule", rule.Name),
				util.String("phase", name),
				util.String("kind", kind),
				util.ErrorField(err))
		}
	}()

	return fn(ctx)
}
