package service

import (
	"time"

	"go.uber.org/zap"

	"rule-persistence/internal/bucketing"
	"rule-persistence/internal/config"
	"rule-persistence/internal/publisher"
	redisrepo "rule-persistence/internal/repository/redis"
	"rule-persistence/internal/rules"
)

// Stores bundles the data-plane dependencies of the job.
type Stores struct {
	Windows   WindowStore
	Offenders OffenderStore
	Samples   SampleSink
	Durable   OffenderSink
	Publisher publisher.OffenderPublisher
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	stores       Stores
	registry     *rules.Registry
	bucketingMgr *bucketing.BucketingManager
	keys         redisrepo.KeyBuilder
	job          config.JobConfig
	metrics      *Metrics
	clock        Clock
	logger       *zap.Logger

	aggregator   *WindowAggregator
	reconciler   *OffenderReconciler
	orchestrator *TickOrchestrator
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	stores Stores,
	registry *rules.Registry,
	bucketingMgr *bucketing.BucketingManager,
	keys redisrepo.KeyBuilder,
	job config.JobConfig,
	metrics *Metrics,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		stores:       stores,
		registry:     registry,
		bucketingMgr: bucketingMgr,
		keys:         keys,
		job:          job,
		metrics:      metrics,
		clock:        time.Now,
		logger:       logger,
	}
}

// WindowAggregator returns the aggregator instance (singleton)
func (f *ServiceFactory) WindowAggregator() *WindowAggregator {
	if f.aggregator == nil {
		f.aggregator = NewWindowAggregator(
			f.stores.Windows,
			f.stores.Samples,
			f.keys,
			f.job.PersistTopN,
			f.job.UnionTTL,
			f.metrics,
		)
	}
	return f.aggregator
}

// OffenderReconciler returns the reconciler instance (singleton)
func (f *ServiceFactory) OffenderReconciler() *OffenderReconciler {
	if f.reconciler == nil {
		f.reconciler = NewOffenderReconciler(
			f.stores.Offenders,
			f.stores.Durable,
			f.stores.Publisher,
			f.keys,
			f.job.OffenderCheckQPS,
			f.job.OffenderPruneTimeout,
			f.metrics,
		)
	}
	return f.reconciler
}

// TickOrchestrator returns the orchestrator instance (singleton)
func (f *ServiceFactory) TickOrchestrator() *TickOrchestrator {
	if f.orchestrator == nil {
		f.orchestrator = NewTickOrchestrator(
			f.registry,
			f.WindowAggregator(),
			f.OffenderReconciler(),
			f.bucketingMgr,
			f.job.Workers,
			f.job.RuleTimeout,
			f.clock,
			f.metrics,
		)
		f.logger.Info("Tick orchestrator ready",
			zap.Int("workers", f.job.Workers),
			zap.Int("shards", f.bucketingMgr.Shards()),
			zap.Int64("persist_top_n", f.job.PersistTopN),
			zap.Duration("union_ttl", f.job.UnionTTL))
	}
	return f.orchestrator
}
