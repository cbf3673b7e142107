// Package idempotency deduplicates expensive requests. The first request for
// a key claims it; later requests replay the pending job or the stored result.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/aws"
	"github.com/Subhanamir19/faccely-sub002/internal/coord"
)

type Options struct {
	TTL time.Duration
	// AbandonTTL is the remaining lifetime given to a pending record whose
	// owner failed, so the key becomes claimable again soon.
	AbandonTTL time.Duration
	// ReadRetries bounds how often a losing request re-reads the record.
	ReadRetries int
	RetryDelay  time.Duration
}

type Guard struct {
	store   coord.Store
	opts    Options
	logger  *log.Logger
	metrics aws.Recorder
	nowFunc func() time.Time
}

func NewGuard(store coord.Store, opts Options, logger *log.Logger, metrics aws.Recorder) *Guard {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.AbandonTTL <= 0 {
		opts.AbandonTTL = time.Second
	}
	if opts.ReadRetries <= 0 {
		opts.ReadRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 50 * time.Millisecond
	}
	if metrics == nil {
		metrics = aws.NopRecorder{}
	}
	return &Guard{
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		nowFunc: time.Now,
	}
}

// Resolve derives the key for req and either claims it or returns the
// replay for an existing claim.
func (g *Guard) Resolve(ctx context.Context, req Request) (Decision, error) {
	key := Key(req)

	claim, err := json.Marshal(Record{Key: key, State: StatePending, ClaimedAt: g.nowFunc().UTC()})
	if err != nil {
		return Decision{}, fmt.Errorf("marshal claim: %w", err)
	}

	var last *Record
	for attempt := 0; attempt <= g.opts.ReadRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, g.opts.RetryDelay); err != nil {
				return Decision{}, err
			}
		}

		won, err := g.store.SetNX(ctx, key, claim, g.opts.TTL)
		if err != nil {
			return Decision{}, apperr.New(apperr.CodeStoreUnavailable, "claim idempotency key", err)
		}
		if won {
			return Decision{Outcome: Claimed, Key: key}, nil
		}

		rec, err := g.load(ctx, key)
		if err != nil {
			return Decision{}, err
		}
		if rec == nil {
			// Expired between the claim attempt and the read; try again.
			continue
		}
		last = rec
		if rec.State == StateCompleted {
			g.metrics.Incr(ctx, aws.MetricIdempotencyReplay, map[string]string{"Outcome": "completed"})
			return Decision{Outcome: ReplayCompleted, Key: key, Record: rec}, nil
		}
		if rec.JobID != "" {
			break
		}
		// Pending without a job yet: the owner is still enqueueing.
	}

	if last == nil {
		return Decision{}, apperr.New(apperr.CodeStoreUnavailable, "idempotency key kept expiring", nil)
	}
	g.metrics.Incr(ctx, aws.MetricIdempotencyReplay, map[string]string{"Outcome": "pending"})
	return Decision{Outcome: ReplayPending, Key: key, Record: last}, nil
}

// SetPending records the job that owns key.
func (g *Guard) SetPending(ctx context.Context, key string, ref JobRef) error {
	rec := Record{
		Key:       key,
		State:     StatePending,
		JobID:     ref.JobID,
		StatusURL: ref.StatusURL,
		Queue:     ref.Queue,
		ClaimedAt: g.nowFunc().UTC(),
	}
	return g.write(ctx, rec, g.opts.TTL)
}

// SetCompleted stores body as the replay for key. A key that is already
// completed is left untouched.
func (g *Guard) SetCompleted(ctx context.Context, key string, body json.RawMessage) error {
	rec, err := g.load(ctx, key)
	if err != nil {
		return err
	}
	if rec != nil && rec.State == StateCompleted {
		return nil
	}

	next := Record{Key: key, State: StateCompleted, ClaimedAt: g.nowFunc().UTC(), Body: body}
	if rec != nil {
		next.JobID = rec.JobID
		next.StatusURL = rec.StatusURL
		next.Queue = rec.Queue
		next.ClaimedAt = rec.ClaimedAt
	}
	return g.write(ctx, next, g.opts.TTL)
}

// Abandon shortens a pending record's TTL after the owner failed to start
// the work. Completed records are never shortened.
func (g *Guard) Abandon(ctx context.Context, key string) error {
	rec, err := g.load(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil || rec.State == StateCompleted {
		return nil
	}
	g.logger.Warn().Str("idempotency_key", key).Msg("abandoning idempotency claim")
	return g.write(ctx, *rec, g.opts.AbandonTTL)
}

// Get returns the record for key, or nil when absent.
func (g *Guard) Get(ctx context.Context, key string) (*Record, error) {
	return g.load(ctx, key)
}

func (g *Guard) load(ctx context.Context, key string) (*Record, error) {
	raw, found, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, apperr.New(apperr.CodeStoreUnavailable, "read idempotency record", err)
	}
	if !found {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	return &rec, nil
}

func (g *Guard) write(ctx context.Context, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := g.store.Set(ctx, rec.Key, raw, ttl); err != nil {
		return apperr.New(apperr.CodeStoreUnavailable, "write idempotency record", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
