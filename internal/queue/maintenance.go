package queue

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
)

// PromoteDelayed moves delayed jobs whose time has come to the waiting list.
// ZREM decides ownership so concurrent promoters never double-push.
func (q *Queue) PromoteDelayed(ctx context.Context, queue string) (int, error) {
	dk := q.key(queue, "delayed")
	ids, err := q.client.ZRangeByScore(ctx, dk, &redis.ZRangeBy{Min: "-inf", Max: scoreMax(q.now())}).Result()
	if err != nil {
		return 0, unavailable("scan delayed", err)
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, dk, id).Result()
		if err != nil {
			return promoted, unavailable("claim delayed", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key(queue, "wait"), id).Err(); err != nil {
			return promoted, unavailable("promote delayed", err)
		}
		promoted++
	}
	return promoted, nil
}

// StalledReport lists what RecoverStalled did.
type StalledReport struct {
	Requeued []string
	// Failed holds jobs that stalled on their last attempt and were failed.
	Failed []*Job
}

const stalledReason = string(apperr.CodeJobStalled)

// RecoverStalled finds active jobs whose lock has expired, typically
// because their worker died. Jobs with attempts left go back to the head of
// the waiting list; the rest are failed. A job caught between the move to
// active and its lock is only recovered if it is still unlocked on the
// following pass.
func (q *Queue) RecoverStalled(ctx context.Context, queue string) (StalledReport, error) {
	var report StalledReport

	ids, err := q.client.LRange(ctx, q.key(queue, "active"), 0, -1).Result()
	if err != nil {
		return report, unavailable("list active", err)
	}
	suspects := q.key(queue, "stalled")

	for _, id := range ids {
		locked, err := q.client.Exists(ctx, q.lockKey(queue, id)).Result()
		if err != nil {
			return report, unavailable("check lock", err)
		}
		if locked == 1 {
			q.client.SRem(ctx, suspects, id)
			continue
		}

		job, err := q.Get(ctx, queue, id)
		if errors.Is(err, ErrNotFound) {
			q.client.LRem(ctx, q.key(queue, "active"), 1, id)
			continue
		}
		if err != nil {
			return report, err
		}

		if job.ProcessedAt == nil {
			seen, err := q.client.SIsMember(ctx, suspects, id).Result()
			if err != nil {
				return report, unavailable("check suspects", err)
			}
			if !seen {
				q.client.SAdd(ctx, suspects, id)
				continue
			}
		}
		q.client.SRem(ctx, suspects, id)

		if job.AttemptsMade >= job.MaxAttempts {
			if err := q.failTerminal(ctx, job, stalledReason); err != nil {
				return report, err
			}
			report.Failed = append(report.Failed, job)
			continue
		}

		jk := q.jobKey(queue, id)
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.key(queue, "active"), 1, id)
			pipe.HDel(ctx, jk, fProcessedAt)
			pipe.HSet(ctx, jk, fLastError, stalledReason)
			pipe.RPush(ctx, q.key(queue, "wait"), id)
			return nil
		})
		if err != nil {
			return report, unavailable("requeue stalled", err)
		}
		report.Requeued = append(report.Requeued, id)
	}

	if n := len(report.Requeued) + len(report.Failed); n > 0 {
		q.logger.Warn().Str("queue", queue).Int("requeued", len(report.Requeued)).
			Int("failed", len(report.Failed)).Msg("recovered stalled jobs")
	}
	return report, nil
}

// Prune drops finished-set entries whose job hash has expired, enforces the
// queue's count caps, drops waiting ids whose job expired and trims an
// oversized waiting list.
func (q *Queue) Prune(ctx context.Context, queue string) error {
	pol := q.policy(queue)
	if pol.WaitingAge > 0 {
		if err := q.sweepWaiting(ctx, queue); err != nil {
			return err
		}
	}
	for _, set := range []struct {
		name string
		keep int
	}{
		{"completed", pol.KeepCompleted.Count},
		{"failed", pol.KeepFailed.Count},
	} {
		if err := q.sweepExpired(ctx, queue, set.name); err != nil {
			return err
		}
		if err := q.trim(ctx, queue, set.name, set.keep); err != nil {
			return err
		}
	}

	if pol.MaxWaiting > 0 {
		wk := q.key(queue, "wait")
		dropped, err := q.client.LRange(ctx, wk, int64(pol.MaxWaiting), -1).Result()
		if err != nil {
			return unavailable("range waiting", err)
		}
		if len(dropped) > 0 {
			keys := make([]string, len(dropped))
			for i, id := range dropped {
				keys[i] = q.jobKey(queue, id)
			}
			_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LTrim(ctx, wk, 0, int64(pol.MaxWaiting)-1)
				pipe.Del(ctx, keys...)
				return nil
			})
			if err != nil {
				return unavailable("trim waiting", err)
			}
		}
	}
	return nil
}

func (q *Queue) sweepExpired(ctx context.Context, queue, set string) error {
	ids, err := q.client.ZRange(ctx, q.key(queue, set), 0, -1).Result()
	if err != nil {
		return unavailable("range "+set, err)
	}
	if len(ids) == 0 {
		return nil
	}

	exists := make([]*redis.IntCmd, len(ids))
	_, err = q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, q.jobKey(queue, id))
		}
		return nil
	})
	if err != nil {
		return unavailable("check "+set, err)
	}

	var gone []any
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			gone = append(gone, ids[i])
		}
	}
	if len(gone) == 0 {
		return nil
	}
	if err := q.client.ZRem(ctx, q.key(queue, set), gone...).Err(); err != nil {
		return unavailable("sweep "+set, err)
	}
	return nil
}

func (q *Queue) sweepWaiting(ctx context.Context, queue string) error {
	wk := q.key(queue, "wait")
	ids, err := q.client.LRange(ctx, wk, 0, -1).Result()
	if err != nil {
		return unavailable("range waiting", err)
	}
	if len(ids) == 0 {
		return nil
	}

	exists := make([]*redis.IntCmd, len(ids))
	_, err = q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, q.jobKey(queue, id))
		}
		return nil
	})
	if err != nil {
		return unavailable("check waiting", err)
	}

	_, err = q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, cmd := range exists {
			if cmd.Val() == 0 {
				pipe.LRem(ctx, wk, 1, ids[i])
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("sweep waiting", err)
	}
	return nil
}
