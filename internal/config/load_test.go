package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Idempotency.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, 3, cfg.Queue.Attempts)
	assert.Equal(t, time.Second, cfg.Queue.Backoff)
	assert.Equal(t, 100, cfg.Queue.KeepCompletedCount)
	assert.Equal(t, 500, cfg.Queue.KeepFailedCount)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, []string{"analyze", "explain", "routine"}, cfg.Worker.Queues)
	assert.Equal(t, 60*time.Second, cfg.Breaker.FailureWindow)
	assert.Equal(t, 7, cfg.Generation.RoutineDays)
	assert.Equal(t, 3, cfg.Generation.TasksPerDay)
	assert.False(t, cfg.Generation.StrictVocabulary)
}

func TestFromViper_EnvOverrides(t *testing.T) {
	t.Setenv("PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("COORD_BACKEND", "dynamodb")
	t.Setenv("IDEMPOTENCY_TABLE", "idem")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("QUEUE_BACKOFF", "250ms")
	t.Setenv("VOCABULARY_STRICT", "true")
	t.Setenv("RUN_LOCAL", "true")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider.Name)
	assert.Equal(t, "dynamodb", cfg.Idempotency.Backend)
	assert.Equal(t, "idem", cfg.Idempotency.Table)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.Backoff)
	assert.True(t, cfg.Generation.StrictVocabulary)
	assert.True(t, cfg.Server.RunLocal)
}

func TestFromViper_MissingProviderKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := FromViper(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GeminiAPIKey")
}

func TestFromViper_DynamoRequiresTable(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("COORD_BACKEND", "dynamodb")
	t.Setenv("IDEMPOTENCY_TABLE", "")

	_, err := FromViper(viper.New())
	require.Error(t, err)
}

func TestValidate_TimeoutOrdering(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 150*time.Second, cfg.Worker.Timeout)
	assert.Equal(t, 180*time.Second, cfg.Worker.LockDuration)

	cfg.Provider.Timeout = cfg.Worker.Timeout
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROVIDER_TIMEOUT")

	cfg.Provider.Timeout = time.Second
	cfg.Worker.LockDuration = cfg.Worker.Timeout
	require.Error(t, Validate(cfg))
}

func TestFromViper_RejectsUnknownQueue(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("WORKER_QUEUES", "analyze,billing")

	_, err := FromViper(viper.New())
	require.Error(t, err)
}

func TestOpsFromViper_IgnoresProviderKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := OpsFromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestValidate_WorkerTimeoutCoversRepair(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("PROVIDER_TIMEOUT", "60s")
	t.Setenv("WORKER_TIMEOUT", "90s")
	t.Setenv("WORKER_LOCK_DURATION", "120s")

	_, err := FromViper(viper.New())
	require.Error(t, err, "a direct call and a repair cannot fit in 90s")
	assert.Contains(t, err.Error(), "WORKER_TIMEOUT")

	t.Setenv("WORKER_TIMEOUT", "130s")
	t.Setenv("WORKER_LOCK_DURATION", "140s")
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, 2*cfg.Provider.Timeout+RepairSlack, cfg.Worker.Timeout)
}
