// Package queue is a Redis-backed job queue with named queues, retry with
// backoff, retention caps and a status derived from job timestamps.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrUnavailable wraps Redis transport failures.
	ErrUnavailable = errors.New("queue store unavailable")
)

// Policy is the default option set applied to every job of a queue.
type Policy struct {
	Attempts      int
	Backoff       Backoff
	KeepCompleted Retention
	KeepFailed    Retention
	// MaxWaiting trims the waiting list during pruning; zero disables it.
	MaxWaiting int
	// WaitingAge expires jobs nobody consumes, such as dead-letter records;
	// zero keeps them until they are fetched.
	WaitingAge time.Duration
}

// DefaultPolicy is three attempts with exponential backoff from one second,
// completed jobs kept for an hour (at most 100) and failed jobs for a day
// (at most 500).
func DefaultPolicy() Policy {
	return Policy{
		Attempts:      3,
		Backoff:       Backoff{Type: BackoffExponential, Delay: time.Second},
		KeepCompleted: Retention{Age: time.Hour, Count: 100},
		KeepFailed:    Retention{Age: 24 * time.Hour, Count: 500},
	}
}

// Options override the queue policy for one job.
type Options struct {
	JobID          string
	Attempts       int
	Backoff        *Backoff
	Delay          time.Duration
	KeepCompleted  *Retention
	KeepFailed     *Retention
	IdempotencyKey string
}

type Handle struct {
	ID    string `json:"job_id"`
	Queue string `json:"queue"`
	// Existing is set when an explicit job id was already enqueued.
	Existing bool `json:"-"`
}

type Config struct {
	Prefix string
	// LookupOrder lists the queues searched, in order, by a status lookup
	// without a queue hint.
	LookupOrder []string
	// Extra lists queues included in health counts but never searched.
	Extra    []string
	Defaults Policy
	Policies map[string]Policy
}

type Queue struct {
	client redis.UniversalClient
	cfg    Config
	logger *log.Logger
	now    func() time.Time
}

func New(client redis.UniversalClient, cfg Config, logger *log.Logger) *Queue {
	if cfg.Defaults.Attempts <= 0 {
		cfg.Defaults = DefaultPolicy()
	}
	return &Queue{client: client, cfg: cfg, logger: logger, now: time.Now}
}

func (q *Queue) policy(name string) Policy {
	if p, ok := q.cfg.Policies[name]; ok {
		return p
	}
	return q.cfg.Defaults
}

func (q *Queue) key(queue, suffix string) string {
	return q.cfg.Prefix + ":" + queue + ":" + suffix
}

func (q *Queue) jobKey(queue, id string) string  { return q.key(queue, "job:"+id) }
func (q *Queue) lockKey(queue, id string) string { return q.key(queue, "lock:"+id) }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Enqueue persists a job and makes it visible to consumers, or schedules it
// when opts.Delay is set. An explicit JobID that already exists is returned
// unchanged.
func (q *Queue) Enqueue(ctx context.Context, queue string, payload any, opts Options) (Handle, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Handle{}, fmt.Errorf("marshal payload: %w", err)
	}

	pol := q.policy(queue)
	job := &Job{
		ID:             opts.JobID,
		Queue:          queue,
		Payload:        raw,
		MaxAttempts:    pol.Attempts,
		Backoff:        pol.Backoff,
		KeepCompleted:  pol.KeepCompleted,
		KeepFailed:     pol.KeepFailed,
		CreatedAt:      q.now(),
		IdempotencyKey: opts.IdempotencyKey,
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if opts.Attempts > 0 {
		job.MaxAttempts = opts.Attempts
	}
	if opts.Backoff != nil {
		job.Backoff = *opts.Backoff
	}
	if opts.KeepCompleted != nil {
		job.KeepCompleted = *opts.KeepCompleted
	}
	if opts.KeepFailed != nil {
		job.KeepFailed = *opts.KeepFailed
	}
	if opts.Delay > 0 {
		until := job.CreatedAt.Add(opts.Delay)
		job.DelayedUntil = &until
	}

	delayScore := ""
	if job.DelayedUntil != nil {
		delayScore = strconv.FormatInt(millis(*job.DelayedUntil), 10)
	}
	args := []any{job.ID, delayScore, pol.WaitingAge.Milliseconds()}
	for f, v := range job.fields() {
		args = append(args, f, v)
	}
	created, err := enqueueScript.Run(ctx, q.client,
		[]string{q.jobKey(queue, job.ID), q.key(queue, "wait"), q.key(queue, "delayed")},
		args...,
	).Int()
	if err != nil {
		return Handle{}, unavailable("enqueue", err)
	}
	if created == 0 {
		return Handle{ID: job.ID, Queue: queue, Existing: true}, nil
	}

	q.logger.Debug().Str("queue", queue).Str("job_id", job.ID).Msg("job enqueued")
	return Handle{ID: job.ID, Queue: queue}, nil
}

// Get loads one job from a named queue.
func (q *Queue) Get(ctx context.Context, queue, id string) (*Job, error) {
	h, err := q.client.HGetAll(ctx, q.jobKey(queue, id)).Result()
	if err != nil {
		return nil, unavailable("load job", err)
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	job := parseJob(h)
	if job.Queue == "" {
		job.Queue = queue
	}
	if job.ID == "" {
		job.ID = id
	}
	return job, nil
}

// Status looks a job up in hint, or in every LookupOrder queue in turn when hint
// is empty.
func (q *Queue) Status(ctx context.Context, id, hint string) (Snapshot, error) {
	queues := q.cfg.LookupOrder
	if hint != "" {
		queues = []string{hint}
	}
	for _, name := range queues {
		job, err := q.Get(ctx, name, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Snapshot{}, err
		}
		return job.Snapshot(q.now()), nil
	}
	return Snapshot{ID: id, Queue: hint, Status: StatusUnknown}, ErrNotFound
}

// Counts are the sizes of a queue's structures.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type Health struct {
	OK     bool              `json:"ok"`
	Error  string            `json:"error,omitempty"`
	Queues map[string]Counts `json:"queues,omitempty"`
}

// Health pings Redis and counts every known queue. It never writes.
func (q *Queue) Health(ctx context.Context) Health {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return Health{OK: false, Error: "redis unreachable"}
	}

	names := append(append([]string(nil), q.cfg.LookupOrder...), q.cfg.Extra...)
	cmds := make(map[string][5]*redis.IntCmd, len(names))
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range names {
			cmds[name] = [5]*redis.IntCmd{
				pipe.LLen(ctx, q.key(name, "wait")),
				pipe.LLen(ctx, q.key(name, "active")),
				pipe.ZCard(ctx, q.key(name, "delayed")),
				pipe.ZCard(ctx, q.key(name, "completed")),
				pipe.ZCard(ctx, q.key(name, "failed")),
			}
		}
		return nil
	})
	if err != nil {
		return Health{OK: false, Error: "queue counts unavailable"}
	}

	out := Health{OK: true, Queues: make(map[string]Counts, len(names))}
	for name, c := range cmds {
		out.Queues[name] = Counts{
			Waiting:   c[0].Val(),
			Active:    c[1].Val(),
			Delayed:   c[2].Val(),
			Completed: c[3].Val(),
			Failed:    c[4].Val(),
		}
	}
	return out
}

// Ping reports whether Redis is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Waiting returns up to limit jobs from the head of the waiting list,
// newest first.
func (q *Queue) Waiting(ctx context.Context, queue string, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := q.client.LRange(ctx, q.key(queue, "wait"), 0, limit-1).Result()
	if err != nil {
		return nil, unavailable("list waiting", err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, queue, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
