package config

import "time"

// Config holds all process configuration. Both binaries load the same
// struct; each uses the sections it needs.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Generation  GenerationConfig  `mapstructure:"generation"`
	DeadLetter  DeadLetterConfig  `mapstructure:"dlq"`
	AWS         AWSConfig         `mapstructure:"aws"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	RunLocal bool   `mapstructure:"run_local"`
	// MaxUploadBytes caps a multipart request body.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix" validate:"required"`
}

type IdempotencyConfig struct {
	// Backend selects the coordination store: redis or dynamodb.
	Backend         string        `mapstructure:"backend" validate:"required,oneof=redis dynamodb"`
	Table           string        `mapstructure:"table" validate:"required_if=Backend dynamodb"`
	TTL             time.Duration `mapstructure:"ttl" validate:"required,gt=0"`
	LocalMaxEntries int           `mapstructure:"local_max_entries" validate:"gt=0"`
}

type QueueConfig struct {
	Attempts            int           `mapstructure:"attempts" validate:"gte=1"`
	Backoff             time.Duration `mapstructure:"backoff" validate:"gt=0"`
	KeepCompletedAge    time.Duration `mapstructure:"keep_completed_age" validate:"gt=0"`
	KeepCompletedCount  int           `mapstructure:"keep_completed_count" validate:"gt=0"`
	KeepFailedAge       time.Duration `mapstructure:"keep_failed_age" validate:"gt=0"`
	KeepFailedCount     int           `mapstructure:"keep_failed_count" validate:"gt=0"`
	MaintenanceSchedule string        `mapstructure:"maintenance_schedule" validate:"required"`
}

type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency" validate:"gte=1,lte=16"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	LockDuration time.Duration `mapstructure:"lock_duration" validate:"gtfield=Timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	// Queues lists the queues this worker process consumes.
	Queues []string `mapstructure:"queues" validate:"required,min=1,dive,oneof=analyze explain routine"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gte=1"`
	SuccessThreshold int           `mapstructure:"success_threshold" validate:"gte=1"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	FailureWindow    time.Duration `mapstructure:"failure_window" validate:"gt=0"`
}

type ProviderConfig struct {
	Name            string        `mapstructure:"name" validate:"required,oneof=gemini anthropic"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key" validate:"required_if=Name gemini"`
	GeminiModel     string        `mapstructure:"gemini_model"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key" validate:"required_if=Name anthropic"`
	AnthropicModel  string        `mapstructure:"anthropic_model"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec" validate:"gt=0"`
	Burst           int           `mapstructure:"burst" validate:"gte=1"`
	MaxTokens       int           `mapstructure:"max_tokens" validate:"gte=256"`
	Temperature     float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

type GenerationConfig struct {
	RoutineDays      int  `mapstructure:"routine_days" validate:"gte=1,lte=30"`
	TasksPerDay      int  `mapstructure:"tasks_per_day" validate:"gte=1,lte=10"`
	MaxResponseBytes int  `mapstructure:"max_response_bytes" validate:"gte=1024"`
	MaxAdvisoryBytes int  `mapstructure:"max_advisory_bytes" validate:"gte=256"`
	StrictVocabulary bool `mapstructure:"strict_vocabulary"`
}

type DeadLetterConfig struct {
	// SQSQueueURL, when set, mirrors dead-letter records to SQS.
	SQSQueueURL string `mapstructure:"sqs_url"`
	// DatabaseURL, when set, archives dead-letter records in Postgres.
	DatabaseURL string `mapstructure:"database_url"`
	// KeepAge and KeepCount bound the dead-letter queue in Redis.
	KeepAge   time.Duration `mapstructure:"keep_age" validate:"gt=0"`
	KeepCount int           `mapstructure:"keep_count" validate:"gte=1"`
}

type AWSConfig struct {
	Region           string `mapstructure:"region"`
	EndpointOverride string `mapstructure:"endpoint_override"`
}

type MetricsConfig struct {
	// Namespace enables CloudWatch metrics when non-empty.
	Namespace string `mapstructure:"namespace"`
}
