// Package app wires configuration into the shared components used by the
// API, the worker and jobctl.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Subhanamir19/faccely-sub002/internal/aws"
	"github.com/Subhanamir19/faccely-sub002/internal/breaker"
	"github.com/Subhanamir19/faccely-sub002/internal/config"
	"github.com/Subhanamir19/faccely-sub002/internal/coord"
	"github.com/Subhanamir19/faccely-sub002/internal/deadletter"
	"github.com/Subhanamir19/faccely-sub002/internal/generation"
	"github.com/Subhanamir19/faccely-sub002/internal/idempotency"
	"github.com/Subhanamir19/faccely-sub002/internal/jobs"
	"github.com/Subhanamir19/faccely-sub002/internal/provider"
	"github.com/Subhanamir19/faccely-sub002/internal/queue"
)

// Core holds the components every binary needs.
type Core struct {
	Config  *config.Config
	Logger  *log.Logger
	Redis   redis.UniversalClient
	Queue   *queue.Queue
	Metrics aws.Recorder
	AWS     *aws.Clients
	// Archive is set when DATABASE_URL is configured.
	Archive *deadletter.PostgresSink

	db *sql.DB
}

// NewCore connects Redis and, when configured, AWS and Postgres.
func NewCore(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Core, error) {
	c := &Core{Config: cfg, Logger: logger, Metrics: aws.NopRecorder{}}

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	c.Queue = queue.New(c.Redis, QueueConfig(cfg), logger)

	if needsAWS(cfg) {
		clients, err := aws.NewClients(ctx, cfg.AWS.Region, cfg.AWS.EndpointOverride)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		c.AWS = clients
	}
	if cfg.Metrics.Namespace != "" {
		c.Metrics = aws.NewCloudWatchRecorder(c.AWS.CloudWatch, cfg.Metrics.Namespace, logger)
	}

	if cfg.DeadLetter.DatabaseURL != "" {
		db, err := deadletter.OpenPostgres(ctx, cfg.DeadLetter.DatabaseURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.db = db
		c.Archive = deadletter.NewPostgresSink(db)
	}
	return c, nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Idempotency.Backend == "dynamodb" || cfg.DeadLetter.SQSQueueURL != "" || cfg.Metrics.Namespace != ""
}

// QueueConfig maps configuration onto the queue policies.
func QueueConfig(cfg *config.Config) queue.Config {
	def := queue.Policy{
		Attempts:      cfg.Queue.Attempts,
		Backoff:       queue.Backoff{Type: queue.BackoffExponential, Delay: cfg.Queue.Backoff},
		KeepCompleted: queue.Retention{Age: cfg.Queue.KeepCompletedAge, Count: cfg.Queue.KeepCompletedCount},
		KeepFailed:    queue.Retention{Age: cfg.Queue.KeepFailedAge, Count: cfg.Queue.KeepFailedCount},
	}
	dead := def
	dead.Attempts = 1
	dead.WaitingAge = cfg.DeadLetter.KeepAge
	dead.MaxWaiting = cfg.DeadLetter.KeepCount
	return queue.Config{
		Prefix:      cfg.Redis.Prefix,
		LookupOrder: jobs.LookupOrder,
		Extra:       []string{jobs.QueueDeadLetter},
		Defaults:    def,
		Policies:    map[string]queue.Policy{jobs.QueueDeadLetter: dead},
	}
}

// Migrate applies the dead-letter archive schema when an archive is
// configured.
func (c *Core) Migrate(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	return deadletter.Migrate(ctx, c.db)
}

// DeadLetter returns the sink chain: the dead-letter queue always, plus SQS
// and the Postgres archive when configured.
func (c *Core) DeadLetter() deadletter.Sink {
	sinks := deadletter.Multi{deadletter.NewQueueSink(c.Queue)}
	if c.Config.DeadLetter.SQSQueueURL != "" {
		sinks = append(sinks, deadletter.NewSQSSink(aws.NewPublisher(c.AWS.SQS, c.Config.DeadLetter.SQSQueueURL)))
	}
	if c.Archive != nil {
		sinks = append(sinks, c.Archive)
	}
	return sinks
}

// NewGuard builds the idempotency guard on the configured shared store with
// the local-memory fallback.
func (c *Core) NewGuard() (*idempotency.Guard, *coord.FallbackStore) {
	var primary coord.Store
	switch c.Config.Idempotency.Backend {
	case "dynamodb":
		primary = coord.NewDynamoStore(c.AWS.DynamoDB, c.Config.Idempotency.Table)
	default:
		primary = coord.NewRedisStore(c.Redis, c.Config.Redis.Prefix)
	}
	store := coord.NewFallbackStore(primary, coord.NewMemoryStore(c.Config.Idempotency.LocalMaxEntries), c.Logger, c.Metrics)
	guard := idempotency.NewGuard(store, idempotency.Options{TTL: c.Config.Idempotency.TTL}, c.Logger, c.Metrics)
	return guard, store
}

// NewPipeline builds the guarded provider and the generation pipeline.
func (c *Core) NewPipeline(ctx context.Context) (*generation.Pipeline, *breaker.Breaker, error) {
	cfg := c.Config
	var inner provider.Provider
	switch cfg.Provider.Name {
	case "anthropic":
		inner = provider.NewAnthropic(cfg.Provider.AnthropicAPIKey, cfg.Provider.AnthropicModel)
	case "gemini":
		g, err := provider.NewGemini(ctx, cfg.Provider.GeminiAPIKey, cfg.Provider.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		inner = g
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}

	br := breaker.New(breaker.Config{
		Name:             cfg.Provider.Name,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
		FailureWindow:    cfg.Breaker.FailureWindow,
		IsRateLimit:      provider.IsRateLimit,
		IsFailure:        provider.CountsAgainstBreaker,
		OnStateChange: func(name string, from, to breaker.State) {
			c.Logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit state changed")
			c.Metrics.Incr(context.Background(), aws.MetricBreakerTransition, map[string]string{"Breaker": name, "To": to.String()})
		},
	})
	limiter := rate.NewLimiter(rate.Limit(cfg.Provider.RequestsPerSec), cfg.Provider.Burst)
	guarded := provider.NewGuarded(inner, br, limiter, cfg.Provider.Timeout)

	catalog, err := generation.DefaultCatalog()
	if err != nil {
		return nil, nil, err
	}
	p := generation.New(guarded, catalog, generation.Options{
		RoutineDays:      cfg.Generation.RoutineDays,
		TasksPerDay:      cfg.Generation.TasksPerDay,
		MaxResponseBytes: cfg.Generation.MaxResponseBytes,
		MaxAdvisoryBytes: cfg.Generation.MaxAdvisoryBytes,
		StrictVocabulary: cfg.Generation.StrictVocabulary,
		MaxTokens:        cfg.Provider.MaxTokens,
		Temperature:      cfg.Provider.Temperature,
	}, c.Logger, c.Metrics)
	return p, br, nil
}

// Close releases every connection NewCore opened.
func (c *Core) Close() error {
	var errs []error
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}
