package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.log_level":        "LOG_LEVEL",
	"server.run_local":        "RUN_LOCAL",
	"server.max_upload_bytes": "MAX_UPLOAD_BYTES",

	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",
	"redis.prefix":   "QUEUE_PREFIX",

	"idempotency.backend":           "COORD_BACKEND",
	"idempotency.table":             "IDEMPOTENCY_TABLE",
	"idempotency.ttl":               "IDEMPOTENCY_TTL",
	"idempotency.local_max_entries": "IDEMPOTENCY_LOCAL_MAX_ENTRIES",

	"queue.attempts":             "QUEUE_ATTEMPTS",
	"queue.backoff":              "QUEUE_BACKOFF",
	"queue.keep_completed_age":   "QUEUE_KEEP_COMPLETED_AGE",
	"queue.keep_completed_count": "QUEUE_KEEP_COMPLETED_COUNT",
	"queue.keep_failed_age":      "QUEUE_KEEP_FAILED_AGE",
	"queue.keep_failed_count":    "QUEUE_KEEP_FAILED_COUNT",
	"queue.maintenance_schedule": "QUEUE_MAINTENANCE_SCHEDULE",

	"worker.concurrency":   "WORKER_CONCURRENCY",
	"worker.timeout":       "WORKER_TIMEOUT",
	"worker.lock_duration": "WORKER_LOCK_DURATION",
	"worker.poll_interval": "WORKER_POLL_INTERVAL",
	"worker.queues":        "WORKER_QUEUES",

	"breaker.failure_threshold": "BREAKER_FAILURE_THRESHOLD",
	"breaker.success_threshold": "BREAKER_SUCCESS_THRESHOLD",
	"breaker.timeout":           "BREAKER_TIMEOUT",
	"breaker.failure_window":    "BREAKER_FAILURE_WINDOW",

	"provider.name":              "PROVIDER",
	"provider.gemini_api_key":    "GEMINI_API_KEY",
	"provider.gemini_model":      "GEMINI_MODEL",
	"provider.anthropic_api_key": "ANTHROPIC_API_KEY",
	"provider.anthropic_model":   "ANTHROPIC_MODEL",
	"provider.timeout":           "PROVIDER_TIMEOUT",
	"provider.requests_per_sec":  "PROVIDER_RPS",
	"provider.burst":             "PROVIDER_BURST",
	"provider.max_tokens":        "PROVIDER_MAX_TOKENS",
	"provider.temperature":       "PROVIDER_TEMPERATURE",

	"generation.routine_days":       "ROUTINE_DAYS",
	"generation.tasks_per_day":      "ROUTINE_ITEMS_PER_DAY",
	"generation.max_response_bytes": "RESPONSE_MAX_BYTES",
	"generation.max_advisory_bytes": "ADVISORY_MAX_BYTES",
	"generation.strict_vocabulary":  "VOCABULARY_STRICT",

	"dlq.sqs_url":      "DLQ_SQS_URL",
	"dlq.database_url": "DATABASE_URL",
	"dlq.keep_age":     "DLQ_KEEP_AGE",
	"dlq.keep_count":   "DLQ_KEEP_COUNT",

	"aws.region":            "AWS_REGION",
	"aws.endpoint_override": "AWS_ENDPOINT_OVERRIDE",

	"metrics.namespace": "METRICS_NAMESPACE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.run_local", false)
	v.SetDefault("server.max_upload_bytes", 12<<20)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "faceq")

	v.SetDefault("idempotency.backend", "redis")
	v.SetDefault("idempotency.table", "")
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.local_max_entries", 10000)

	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff", time.Second)
	v.SetDefault("queue.keep_completed_age", time.Hour)
	v.SetDefault("queue.keep_completed_count", 100)
	v.SetDefault("queue.keep_failed_age", 24*time.Hour)
	v.SetDefault("queue.keep_failed_count", 500)
	v.SetDefault("queue.maintenance_schedule", "@every 30s")

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.timeout", 150*time.Second)
	v.SetDefault("worker.lock_duration", 180*time.Second)
	v.SetDefault("worker.poll_interval", 500*time.Millisecond)
	v.SetDefault("worker.queues", []string{"analyze", "explain", "routine"})

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.failure_window", 60*time.Second)

	v.SetDefault("provider.name", "gemini")
	v.SetDefault("provider.gemini_api_key", "")
	v.SetDefault("provider.gemini_model", "gemini-2.5-flash")
	v.SetDefault("provider.anthropic_api_key", "")
	v.SetDefault("provider.anthropic_model", "claude-sonnet-4-5")
	v.SetDefault("provider.timeout", 60*time.Second)
	v.SetDefault("provider.requests_per_sec", 2.0)
	v.SetDefault("provider.burst", 4)
	v.SetDefault("provider.max_tokens", 4096)
	v.SetDefault("provider.temperature", 0.4)

	v.SetDefault("generation.routine_days", 7)
	v.SetDefault("generation.tasks_per_day", 3)
	v.SetDefault("generation.max_response_bytes", 64<<10)
	v.SetDefault("generation.max_advisory_bytes", 4<<10)
	v.SetDefault("generation.strict_vocabulary", false)

	v.SetDefault("dlq.sqs_url", "")
	v.SetDefault("dlq.database_url", "")
	v.SetDefault("dlq.keep_age", 7*24*time.Hour)
	v.SetDefault("dlq.keep_count", 1000)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint_override", "")

	v.SetDefault("metrics.namespace", "")
}

// Load reads configuration from an optional .env file and the process
// environment, applies defaults and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromViper(viper.New())
}

// FromViper builds a Config from v after binding defaults and environment
// variables. Tests call it with a fresh viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOps loads configuration for operator tooling. It never calls a
// provider, so only the store sections are validated.
func LoadOps() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return OpsFromViper(viper.New())
}

func OpsFromViper(v *viper.Viper) (*Config, error) {
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	val := validator.New()
	for _, section := range []any{cfg.Redis, cfg.Idempotency, cfg.Queue, cfg.DeadLetter} {
		if err := val.Struct(section); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	for i, q := range cfg.Worker.Queues {
		cfg.Worker.Queues[i] = strings.TrimSpace(q)
	}
	return &cfg, nil
}

// RepairSlack is the headroom a job keeps beyond two provider calls for
// rate limiter waits, decoding and result storage.
const RepairSlack = 10 * time.Second

// Validate applies struct tags and the timeout ordering rule: a direct
// provider call plus one repair must fit inside a job, and a job inside its
// lock.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if budget := 2*cfg.Provider.Timeout + RepairSlack; cfg.Worker.Timeout < budget {
		return fmt.Errorf("invalid config: WORKER_TIMEOUT (%s) must be at least twice PROVIDER_TIMEOUT (%s) plus %s",
			cfg.Worker.Timeout, cfg.Provider.Timeout, RepairSlack)
	}
	if cfg.Worker.Timeout >= cfg.Worker.LockDuration {
		return fmt.Errorf("invalid config: WORKER_TIMEOUT (%s) must be below WORKER_LOCK_DURATION (%s)",
			cfg.Worker.Timeout, cfg.Worker.LockDuration)
	}
	return nil
}
