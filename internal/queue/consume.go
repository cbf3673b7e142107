package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxDangling bounds how many pruned ids one Fetch discards before giving up
// until the next poll.
const maxDangling = 32

// Fetch promotes due delayed jobs, then moves the oldest waiting job to the
// active list and locks it for lockFor. Ids whose job hash is gone are
// dropped. It returns nil when the queue is empty.
func (q *Queue) Fetch(ctx context.Context, queue string, lockFor time.Duration) (*Job, error) {
	if _, err := q.PromoteDelayed(ctx, queue); err != nil {
		return nil, err
	}

	lockMS := lockFor.Milliseconds()
	if lockMS < 1 {
		lockMS = 1
	}
	for i := 0; i < maxDangling; i++ {
		id, err := q.client.LMove(ctx, q.key(queue, "wait"), q.key(queue, "active"), "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, unavailable("move job to active", err)
		}

		claimed, err := claimScript.Run(ctx, q.client,
			[]string{q.jobKey(queue, id), q.key(queue, "active"), q.lockKey(queue, id)},
			id, millis(q.now()), lockMS, fProcessedAt, fDelayedUntil, fAttemptsMade,
		).Int()
		if err != nil {
			return nil, unavailable("lock job", err)
		}
		if claimed == 0 {
			q.logger.Warn().Str("queue", queue).Str("job_id", id).Msg("dropped dangling job id")
			continue
		}

		job, err := q.Get(ctx, queue, id)
		if errors.Is(err, ErrNotFound) {
			// Expired between the claim and the read.
			q.client.LRem(ctx, q.key(queue, "active"), 1, id)
			q.client.Del(ctx, q.lockKey(queue, id))
			continue
		}
		return job, err
	}
	return nil, nil
}

// UpdateProgress records a 0..100 progress value.
func (q *Queue) UpdateProgress(ctx context.Context, job *Job, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if err := q.client.HSet(ctx, q.jobKey(job.Queue, job.ID), fProgress, progress).Err(); err != nil {
		return unavailable("update progress", err)
	}
	job.Progress = progress
	return nil
}

// Complete stores result verbatim and moves the job to the completed set.
func (q *Queue) Complete(ctx context.Context, job *Job, result json.RawMessage) error {
	now := q.now()
	jk := q.jobKey(job.Queue, job.ID)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jk, map[string]any{
			fFinishedAt: millis(now),
			fResult:     string(result),
			fProgress:   100,
		})
		pipe.LRem(ctx, q.key(job.Queue, "active"), 1, job.ID)
		pipe.Del(ctx, q.lockKey(job.Queue, job.ID))
		pipe.ZAdd(ctx, q.key(job.Queue, "completed"), redis.Z{Score: float64(millis(now)), Member: job.ID})
		if job.KeepCompleted.Age > 0 {
			pipe.PExpire(ctx, jk, job.KeepCompleted.Age)
		}
		return nil
	})
	if err != nil {
		return unavailable("complete job", err)
	}

	job.FinishedAt = &now
	job.Result = result
	job.Progress = 100
	return q.trim(ctx, job.Queue, "completed", job.KeepCompleted.Count)
}

// FailOutcome reports what Fail did with the job.
type FailOutcome struct {
	Retried bool
	Delay   time.Duration
}

// Fail records reason. The job is rescheduled after its backoff unless
// terminal is set or its attempts are exhausted, in which case it moves to
// the failed set.
func (q *Queue) Fail(ctx context.Context, job *Job, reason string, terminal bool) (FailOutcome, error) {
	if terminal || job.AttemptsMade >= job.MaxAttempts {
		return FailOutcome{}, q.failTerminal(ctx, job, reason)
	}

	now := q.now()
	delay := job.Backoff.After(job.AttemptsMade)
	until := now.Add(delay)
	jk := q.jobKey(job.Queue, job.ID)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jk, map[string]any{
			fLastError:    reason,
			fDelayedUntil: millis(until),
		})
		pipe.HDel(ctx, jk, fProcessedAt)
		pipe.LRem(ctx, q.key(job.Queue, "active"), 1, job.ID)
		pipe.Del(ctx, q.lockKey(job.Queue, job.ID))
		pipe.ZAdd(ctx, q.key(job.Queue, "delayed"), redis.Z{Score: float64(millis(until)), Member: job.ID})
		return nil
	})
	if err != nil {
		return FailOutcome{}, unavailable("reschedule job", err)
	}

	job.LastError = reason
	job.ProcessedAt = nil
	job.DelayedUntil = &until
	return FailOutcome{Retried: true, Delay: delay}, nil
}

func (q *Queue) failTerminal(ctx context.Context, job *Job, reason string) error {
	now := q.now()
	jk := q.jobKey(job.Queue, job.ID)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jk, map[string]any{
			fFinishedAt:    millis(now),
			fFailureReason: reason,
			fLastError:     reason,
		})
		pipe.LRem(ctx, q.key(job.Queue, "active"), 1, job.ID)
		pipe.Del(ctx, q.lockKey(job.Queue, job.ID))
		pipe.ZAdd(ctx, q.key(job.Queue, "failed"), redis.Z{Score: float64(millis(now)), Member: job.ID})
		if job.KeepFailed.Age > 0 {
			pipe.PExpire(ctx, jk, job.KeepFailed.Age)
		}
		return nil
	})
	if err != nil {
		return unavailable("fail job", err)
	}

	job.FinishedAt = &now
	job.FailureReason = reason
	job.LastError = reason
	return q.trim(ctx, job.Queue, "failed", job.KeepFailed.Count)
}

// trim keeps the newest keep members of a finished set and deletes the
// hashes of the rest.
func (q *Queue) trim(ctx context.Context, queue, set string, keep int) error {
	if keep <= 0 {
		return nil
	}
	sk := q.key(queue, set)
	n, err := q.client.ZCard(ctx, sk).Result()
	if err != nil {
		return unavailable("count "+set, err)
	}
	excess := n - int64(keep)
	if excess <= 0 {
		return nil
	}
	ids, err := q.client.ZRange(ctx, sk, 0, excess-1).Result()
	if err != nil {
		return unavailable("range "+set, err)
	}
	return q.remove(ctx, queue, set, ids)
}

func (q *Queue) remove(ctx context.Context, queue, set string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = q.jobKey(queue, id)
	}
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.key(queue, set), members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return unavailable("remove "+set, err)
	}
	q.logger.Debug().Str("queue", queue).Str("set", set).Int("removed", len(ids)).Msg("pruned jobs")
	return nil
}

func scoreMax(t time.Time) string {
	return strconv.FormatInt(millis(t), 10)
}
