package app

import (
	"context"
	"encoding/json"

	"github.com/phuslu/log"

	"github.com/Subhanamir19/faccely-sub002/internal/idempotency"
	"github.com/Subhanamir19/faccely-sub002/internal/queue"
	"github.com/Subhanamir19/faccely-sub002/internal/worker"
)

// ReplayStore is the idempotency surface the worker hooks write to.
type ReplayStore interface {
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	SetCompleted(ctx context.Context, key string, body json.RawMessage) error
	Abandon(ctx context.Context, key string) error
}

// WriteBack registers hooks on rt that keep the idempotency record of a job
// in step with it. A completed job's result becomes the replay body; a job
// that failed for good releases its claim so a resubmission starts a new
// job instead of replaying the dead one.
func WriteBack(rt *worker.Runtime, store ReplayStore, logger *log.Logger) {
	rt.OnCompleted(func(ctx context.Context, job *queue.Job, result json.RawMessage) {
		if job.IdempotencyKey == "" {
			return
		}
		if err := store.SetCompleted(ctx, job.IdempotencyKey, result); err != nil {
			logger.Warn().Err(err).Str("job_id", job.ID).Msg("idempotency write-back failed")
		}
	})

	rt.OnFailed(func(ctx context.Context, job *queue.Job, _ error) {
		if job.IdempotencyKey == "" {
			return
		}
		rec, err := store.Get(ctx, job.IdempotencyKey)
		if err != nil {
			logger.Warn().Err(err).Str("job_id", job.ID).Msg("idempotency release failed")
			return
		}
		// The key may already belong to a newer job.
		if rec == nil || rec.JobID != job.ID {
			return
		}
		if err := store.Abandon(ctx, job.IdempotencyKey); err != nil {
			logger.Warn().Err(err).Str("job_id", job.ID).Msg("idempotency release failed")
		}
	})
}
