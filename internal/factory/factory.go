package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rule-persistence/internal/bucketing"
	"rule-persistence/internal/client"
	"rule-persistence/internal/config"
	"rule-persistence/internal/publisher"
	chrepo "rule-persistence/internal/repository/clickhouse"
	redisrepo "rule-persistence/internal/repository/redis"
	"rule-persistence/internal/repository/scylla"
	"rule-persistence/internal/rules"
	"rule-persistence/internal/scheduler"
	"rule-persistence/internal/service"
	"rule-persistence/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	bucketingManager *bucketing.BucketingManager
	registry         *rules.Registry
	metrics          *service.Metrics

	// Repositories
	offenderRepository scylla.OffenderRepository
	ruleRepository     scylla.RuleRepository
	sampleRepository   *chrepo.SampleRepository
	serviceFactory     *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{config: cfg}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
		util.Bool("elasticsearch_enabled", factory.esClient != nil),
		util.Int("rules", factory.registry.Snapshot().Len()),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks.
// Redis, Scylla and ClickHouse are required; Kafka and Elasticsearch only feed
// offender events and may be missing outside production.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	// ScyllaDB
	scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}
	util.Info("ScyllaDB client initialized and healthy")

	// ClickHouse
	clickhouseClient, err := client.NewClickHouseClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	f.clickhouseClient = clickhouseClient
	if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("clickhouse health check: %w", err)
	}
	util.Info("ClickHouse client initialized and healthy")

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
		util.Info("Elasticsearch client initialized and healthy")
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning - proceeding without it", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := f.scyllaClient.EnsureSchema(ctx); err != nil {
		return err
	}
	return f.SampleRepository().EnsureSchema(ctx)
}

// initializeManagers builds the bucketing manager, metrics and the rule
// registry. Rules come from RULES and, when enabled, from Scylla.
func (f *Factory) initializeManagers() error {
	f.bucketingManager = bucketing.NewBucketingManager(f.config.Job.Shards)
	f.metrics = service.NewMetrics(prometheus.DefaultRegisterer)
	f.registry = rules.NewRegistry()

	seed, err := rules.ParseRules(f.config.Job.Rules)
	if err != nil {
		return err
	}
	if err := f.registry.Replace(seed); err != nil {
		return err
	}

	if f.config.Job.RuleSourceScylla {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := f.registry.Reload(ctx, f.RuleRepository()); err != nil {
			if f.config.IsProduction() {
				return err
			}
			util.Warn("Initial rule load from Scylla failed, using seeded rules", util.ErrorField(err))
		}
	}

	util.Info("Managers initialized successfully",
		util.Int("shards", f.bucketingManager.Shards()),
		util.Int("rules", f.registry.Snapshot().Len()),
		util.Bool("rule_source_scylla", f.config.Job.RuleSourceScylla),
	)
	return nil
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) OffenderRepository() scylla.OffenderRepository {
	if f.offenderRepository == nil {
		f.offenderRepository = scylla.NewOffenderRepository(f.scyllaClient, f.config.Job.OffenderBatch)
	}
	return f.offenderRepository
}

func (f *Factory) RuleRepository() scylla.RuleRepository {
	if f.ruleRepository == nil {
		f.ruleRepository = scylla.NewRuleRepository(f.scyllaClient)
	}
	return f.ruleRepository
}

func (f *Factory) SampleRepository() *chrepo.SampleRepository {
	if f.sampleRepository == nil {
		f.sampleRepository = chrepo.NewSampleRepository(f.clickhouseClient)
	}
	return f.sampleRepository
}

// OffenderPublisher returns the publishers for the clients that came up, or
// nil when there are none.
func (f *Factory) OffenderPublisher() publisher.OffenderPublisher {
	var multi publisher.Multi
	if f.kafkaProducer != nil {
		multi = append(multi, publisher.NewKafkaPublisher(f.kafkaProducer, f.config.Kafka.OffenderTopic))
	}
	if f.esClient != nil {
		multi = append(multi, publisher.NewElasticsearchIndexer(f.esClient, f.config.Elasticsearch.OffenderIndex))
	}
	if len(multi) == 0 {
		return nil
	}
	return multi
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			service.Stores{
				Windows:   redisrepo.NewWindowCache(f.redisClient),
				Offenders: redisrepo.NewOffenderCache(f.redisClient),
				Samples:   f.SampleRepository(),
				Durable:   f.OffenderRepository(),
				Publisher: f.OffenderPublisher(),
			},
			f.registry,
			f.bucketingManager,
			redisrepo.NewKeyBuilder(f.config.Redis.KeyPrefix),
			f.config.Job,
			f.metrics,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// Scheduler returns a scheduler driving the tick orchestrator.
func (f *Factory) Scheduler() *scheduler.Scheduler {
	return scheduler.New(
		f.ServiceFactory().TickOrchestrator(),
		f.config.Job.TickInterval,
		f.config.Job.RunOnStart,
	)
}

// StartBackground starts the scheduler and, when enabled, the rule refresher.
// Both stop when ctx is cancelled. The returned channel is closed once they
// have returned, which includes any tick the scheduler was running.
func (f *Factory) StartBackground(ctx context.Context) <-chan struct{} {
	tasks := []func(context.Context){f.Scheduler().Run}

	if f.config.Job.RuleSourceScylla {
		src := f.RuleRepository()
		every := f.config.Job.RuleRefreshEvery
		tasks = append(tasks, func(ctx context.Context) {
			f.registry.Watch(ctx, src, every)
		})
	}

	return runBackground(ctx, tasks...)
}

func runBackground(ctx context.Context, tasks ...func(context.Context)) <-chan struct{} {
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(task)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.OffenderRepository().HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.bucketingManager == nil {
		healthErrors["bucketing"] = fmt.Errorf("bucketing manager not initialized")
	}

	return healthErrors
}

// ==============================
// Other Utility Methods
// ==============================

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}
