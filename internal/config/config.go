package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Clickhouse    ClickhouseConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Job           JobConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	CAFile   string

	// QueryTimeout bounds each statement, client side and as the server's
	// max_execution_time.
	QueryTimeout time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	OffenderTopic string
}

type ElasticsearchConfig struct {
	URL           string
	Username      string
	Password      string
	OffenderIndex string
}

// JobConfig drives the periodic persistence job.
type JobConfig struct {
	// PersistTopN is the number of lowest-ranked union members skipped before
	// sample records are written.
	PersistTopN int64

	// UnionTTL bounds how long a merged union bucket survives in Redis.
	UnionTTL time.Duration

	TickInterval     time.Duration
	RunOnStart       bool
	Workers          int
	Shards           int
	RuleTimeout      time.Duration
	OffenderCheckQPS float64
	OffenderBatch    int

	// OffenderPruneTimeout bounds the blacklist prune, which runs detached
	// from the rule deadline.
	OffenderPruneTimeout time.Duration

	// Rules seeds the registry: name:span[:cap] separated by commas.
	Rules            string
	RuleSourceScylla bool
	RuleRefreshEvery time.Duration
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getInt("SERVER_PORT", 8080),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        getInt("REDIS_DB", 0),
			PoolSize:  getInt("REDIS_POOL_SIZE", 20),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "doorgod"),
		},
		Scylla: ScyllaConfig{
			Nodes:    getList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "decision_engine"),
			Username: os.Getenv("SCYLLA_USERNAME"),
			Password: os.Getenv("SCYLLA_PASSWORD"),
		},
		Clickhouse: ClickhouseConfig{
			URL:          getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username:     getEnv("CLICKHOUSE_USERNAME", "default"),
			Password:     os.Getenv("CLICKHOUSE_PASSWORD"),
			Database:     getEnv("CLICKHOUSE_DATABASE", "decision_engine"),
			CAFile:       os.Getenv("CLICKHOUSE_CA_FILE"),
			QueryTimeout: getDuration("CLICKHOUSE_QUERY_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       getList("KAFKA_BROKERS", []string{"localhost:9092"}),
			OffenderTopic: getEnv("KAFKA_OFFENDER_TOPIC", "doorgod.offenders"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:           getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:      os.Getenv("ELASTICSEARCH_USERNAME"),
			Password:      os.Getenv("ELASTICSEARCH_PASSWORD"),
			OffenderIndex: getEnv("ELASTICSEARCH_OFFENDER_INDEX", "doorgod-offenders"),
		},
		Job: JobConfig{
			PersistTopN:          int64(getInt("PERSIST_TOP_N", 0)),
			UnionTTL:             getDuration("UNION_TTL", 5*time.Minute),
			TickInterval:         getDuration("TICK_INTERVAL", time.Minute),
			RunOnStart:           getBool("TICK_RUN_ON_START", false),
			Workers:              getInt("TICK_WORKERS", 4),
			Shards:               getInt("TICK_SHARDS", 16),
			RuleTimeout:          getDuration("TICK_RULE_TIMEOUT", 20*time.Second),
			OffenderCheckQPS:     getFloat("OFFENDER_CHECK_QPS", 500),
			OffenderBatch:        getInt("OFFENDER_BATCH_SIZE", 100),
			OffenderPruneTimeout: getDuration("OFFENDER_PRUNE_TIMEOUT", 5*time.Second),
			Rules:                os.Getenv("RULES"),
			RuleSourceScylla:     getBool("RULE_SOURCE_SCYLLA", false),
			RuleRefreshEvery:     getDuration("RULE_REFRESH_INTERVAL", 30*time.Second),
		},
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

// Validate checks the job settings that would otherwise fail on every tick.
func (c *Config) Validate() error {
	var errs []error
	if c.Job.PersistTopN < 0 {
		errs = append(errs, fmt.Errorf("PERSIST_TOP_N must be non-negative, got %d", c.Job.PersistTopN))
	}
	if c.Job.UnionTTL <= 0 {
		errs = append(errs, fmt.Errorf("UNION_TTL must be positive, got %s", c.Job.UnionTTL))
	}
	if c.Job.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.Job.TickInterval))
	}
	if c.Job.Workers < 1 {
		errs = append(errs, fmt.Errorf("TICK_WORKERS must be at least 1, got %d", c.Job.Workers))
	}
	if c.Job.Shards < 1 {
		errs = append(errs, fmt.Errorf("TICK_SHARDS must be at least 1, got %d", c.Job.Shards))
	}
	if c.Job.OffenderBatch < 1 {
		errs = append(errs, fmt.Errorf("OFFENDER_BATCH_SIZE must be at least 1, got %d", c.Job.OffenderBatch))
	}
	if c.Job.OffenderPruneTimeout <= 0 {
		errs = append(errs, fmt.Errorf("OFFENDER_PRUNE_TIMEOUT must be positive, got %s", c.Job.OffenderPruneTimeout))
	}
	if c.Job.RuleSourceScylla && c.Job.RuleRefreshEvery <= 0 {
		errs = append(errs, fmt.Errorf("RULE_REFRESH_INTERVAL must be positive when RULE_SOURCE_SCYLLA is set, got %s", c.Job.RuleRefreshEvery))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	// bare integers are seconds
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
