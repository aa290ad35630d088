package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_JobSettingsFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PERSIST_TOP_N", "5")
	t.Setenv("UNION_TTL", "90")
	t.Setenv("TICK_INTERVAL", "30s")
	t.Setenv("TICK_WORKERS", "8")
	t.Setenv("OFFENDER_CHECK_QPS", "12.5")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("RULES", "login-fail:3")

	cfg := LoadConfig()

	if !cfg.IsProduction() || cfg.IsDevelopment() {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if cfg.Job.PersistTopN != 5 {
		t.Fatalf("expected topN 5, got %d", cfg.Job.PersistTopN)
	}
	if cfg.Job.UnionTTL != 90*time.Second {
		t.Fatalf("bare integer durations are seconds, got %s", cfg.Job.UnionTTL)
	}
	if cfg.Job.TickInterval != 30*time.Second || cfg.Job.Workers != 8 {
		t.Fatalf("unexpected tick settings %+v", cfg.Job)
	}
	if cfg.Job.OffenderCheckQPS != 12.5 {
		t.Fatalf("expected qps 12.5, got %v", cfg.Job.OffenderCheckQPS)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Job.Rules != "login-fail:3" {
		t.Fatalf("unexpected rules %q", cfg.Job.Rules)
	}
	if Get() != cfg {
		t.Fatal("Get should return the last loaded config")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "PERSIST_TOP_N", "UNION_TTL", "TICK_INTERVAL", "REDIS_KEY_PREFIX", "SERVER_PORT"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	if !cfg.IsDevelopment() {
		t.Fatalf("expected development by default, got %q", cfg.Environment)
	}
	if cfg.Job.PersistTopN != 0 || cfg.Job.UnionTTL != 5*time.Minute || cfg.Job.TickInterval != time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg.Job)
	}
	if cfg.Redis.KeyPrefix != "doorgod" {
		t.Fatalf("unexpected key prefix %q", cfg.Redis.KeyPrefix)
	}
	if cfg.GetServerAddress() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.GetServerAddress())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}

func TestValidate_RejectsBadJobSettings(t *testing.T) {
	cfg := &Config{Job: JobConfig{
		PersistTopN:   -1,
		UnionTTL:      0,
		TickInterval:  time.Minute,
		Workers:       1,
		Shards:        1,
		OffenderBatch: 1,
	}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"PERSIST_TOP_N", "UNION_TTL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_RuleRefreshInterval(t *testing.T) {
	valid := JobConfig{
		UnionTTL:             time.Minute,
		TickInterval:         time.Minute,
		Workers:              1,
		Shards:               1,
		OffenderBatch:        1,
		OffenderPruneTimeout: time.Second,
	}

	cfg := &Config{Job: valid}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("refresh interval is unused without the scylla source, got %v", err)
	}

	for _, every := range []time.Duration{0, -time.Second} {
		job := valid
		job.RuleSourceScylla = true
		job.RuleRefreshEvery = every
		err := (&Config{Job: job}).Validate()
		if err == nil || !strings.Contains(err.Error(), "RULE_REFRESH_INTERVAL") {
			t.Fatalf("expected RULE_REFRESH_INTERVAL error for %s, got %v", every, err)
		}
	}
}
