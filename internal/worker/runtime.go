// Package worker consumes a named queue with a fixed pool of goroutines,
// racing each job against a wall-clock timeout and dead-lettering jobs that
// fail terminally.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/aws"
	"github.com/Subhanamir19/faccely-sub002/internal/deadletter"
	"github.com/Subhanamir19/faccely-sub002/internal/queue"
)

// Failure codes written to logs and dead-letter records.
const (
	CodeTimeout = "JOB_TIMEOUT"
	CodeError   = "JOB_ERROR"
	CodeStalled = "JOB_STALLED"
)

// TaskFunc runs one job and returns the result stored verbatim on success.
type TaskFunc func(ctx context.Context, payload json.RawMessage, progress func(int)) (json.RawMessage, error)

// CompletionFunc runs after a job's result has been stored.
type CompletionFunc func(ctx context.Context, job *queue.Job, result json.RawMessage)

// FailureFunc runs after a job has failed for good, including jobs failed
// by stalled recovery.
type FailureFunc func(ctx context.Context, job *queue.Job, err error)

// Source is the queue surface the runtime consumes.
type Source interface {
	Fetch(ctx context.Context, queue string, lockFor time.Duration) (*queue.Job, error)
	UpdateProgress(ctx context.Context, job *queue.Job, progress int) error
	Complete(ctx context.Context, job *queue.Job, result json.RawMessage) error
	Fail(ctx context.Context, job *queue.Job, reason string, terminal bool) (queue.FailOutcome, error)
	RecoverStalled(ctx context.Context, queue string) (queue.StalledReport, error)
	Prune(ctx context.Context, queue string) error
}

type Options struct {
	Queue        string
	Concurrency  int
	Timeout      time.Duration
	LockDuration time.Duration
	PollInterval time.Duration
}

type Runtime struct {
	src         Source
	task        TaskFunc
	dlq         deadletter.Sink
	opts        Options
	onCompleted CompletionFunc
	onFailed    FailureFunc
	logger      *log.Logger
	metrics     aws.Recorder
	now         func() time.Time
}

func New(src Source, task TaskFunc, dlq deadletter.Sink, opts Options, logger *log.Logger, metrics aws.Recorder) (*Runtime, error) {
	if opts.Queue == "" {
		return nil, errors.New("worker: queue name is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Timeout <= 0 {
		return nil, errors.New("worker: timeout must be positive")
	}
	if opts.LockDuration <= opts.Timeout {
		return nil, fmt.Errorf("worker: lock duration %s must exceed timeout %s", opts.LockDuration, opts.Timeout)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if metrics == nil {
		metrics = aws.NopRecorder{}
	}
	return &Runtime{
		src:     src,
		task:    task,
		dlq:     dlq,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// OnCompleted registers a hook run after every successful job.
func (r *Runtime) OnCompleted(fn CompletionFunc) {
	r.onCompleted = fn
}

// OnFailed registers a hook run after every terminal failure.
func (r *Runtime) OnFailed(fn FailureFunc) {
	r.onFailed = fn
}

// Run starts the pool and blocks until ctx is cancelled or a fetch fails
// for a reason other than cancellation.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info().Str("queue", r.opts.Queue).Int("concurrency", r.opts.Concurrency).
		Dur("timeout", r.opts.Timeout).Msg("worker started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.opts.Concurrency; i++ {
		g.Go(func() error { return r.loop(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	r.logger.Info().Str("queue", r.opts.Queue).Msg("worker stopped")
	return err
}

func (r *Runtime) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		processed, err := r.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient store failures back off for one poll interval.
			r.logger.Error().Err(err).Str("queue", r.opts.Queue).Msg("fetch failed")
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}
	}
}

// ProcessNext fetches and runs at most one job. It reports whether a job
// was taken.
func (r *Runtime) ProcessNext(ctx context.Context) (bool, error) {
	job, err := r.src.Fetch(ctx, r.opts.Queue, r.opts.LockDuration)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	r.process(ctx, job)
	return true, nil
}

type outcome struct {
	result json.RawMessage
	err    error
}

func (r *Runtime) process(ctx context.Context, job *queue.Job) {
	start := r.now()
	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	progress := func(p int) {
		if err := r.src.UpdateProgress(ctx, job, p); err != nil {
			r.logger.Debug().Err(err).Str("job_id", job.ID).Msg("progress update failed")
		}
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("task panicked: %v", rec)}
			}
		}()
		res, err := r.task(runCtx, job.Payload, progress)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	code := CodeError
	select {
	case out = <-done:
	case <-runCtx.Done():
		if ctx.Err() != nil {
			// Shutdown: leave the job active; lock expiry hands it to stalled
			// recovery.
			r.logger.Warn().Str("queue", job.Queue).Str("job_id", job.ID).Msg("job interrupted by shutdown")
			return
		}
		code = CodeTimeout
		out.err = apperr.New(apperr.CodeProviderTimeout,
			fmt.Sprintf("job exceeded %s", r.opts.Timeout), context.DeadlineExceeded)
	}
	latency := r.now().Sub(start)

	if out.err != nil && ctx.Err() != nil {
		r.logger.Warn().Str("queue", job.Queue).Str("job_id", job.ID).Msg("job interrupted by shutdown")
		return
	}
	if out.err == nil {
		r.succeed(ctx, job, out.result, latency)
		return
	}
	if errors.Is(out.err, context.DeadlineExceeded) {
		code = CodeTimeout
	}
	r.fail(ctx, job, out.err, code, latency)
}

func (r *Runtime) succeed(ctx context.Context, job *queue.Job, result json.RawMessage, latency time.Duration) {
	if err := r.src.Complete(ctx, job, result); err != nil {
		r.logger.Error().Err(err).Str("queue", job.Queue).Str("job_id", job.ID).Msg("store result failed")
		return
	}
	r.logger.Info().
		Str("queue", job.Queue).
		Str("job_id", job.ID).
		Int("attempt", job.AttemptsMade).
		Dur("latency", latency).
		Msg("job completed")
	r.metrics.Incr(ctx, aws.MetricJobCompleted, map[string]string{"Queue": job.Queue})

	if r.onCompleted != nil {
		r.onCompleted(ctx, job, result)
	}
}

func (r *Runtime) fail(ctx context.Context, job *queue.Job, jobErr error, code string, latency time.Duration) {
	terminal := !apperr.IsRetryable(jobErr) || job.AttemptsMade >= job.MaxAttempts

	r.logger.Error().
		Str("queue", job.Queue).
		Str("job_id", job.ID).
		Int("attempt", job.AttemptsMade).
		Int("max_attempts", job.MaxAttempts).
		Dur("latency", latency).
		Str("code", code).
		Str("error_code", string(apperr.CodeOf(jobErr))).
		Bool("terminal", terminal).
		Err(jobErr).
		Msg("job failed")

	if terminal {
		rec := deadletter.NewRecord(job.Queue, job.ID, job.AttemptsMade, latency, code, jobErr.Error(), r.now())
		r.deadLetter(ctx, rec)
	}

	res, err := r.src.Fail(ctx, job, string(apperr.CodeOf(jobErr)), terminal)
	if err != nil {
		r.logger.Error().Err(err).Str("queue", job.Queue).Str("job_id", job.ID).Msg("record failure failed")
		return
	}
	dims := map[string]string{"Queue": job.Queue, "Code": code}
	if res.Retried {
		r.logger.Info().Str("queue", job.Queue).Str("job_id", job.ID).Dur("delay", res.Delay).Msg("job rescheduled")
		r.metrics.Incr(ctx, aws.MetricJobRetried, dims)
		return
	}
	r.metrics.Incr(ctx, aws.MetricJobFailed, dims)
	r.failed(ctx, job, jobErr)
}

func (r *Runtime) failed(ctx context.Context, job *queue.Job, err error) {
	if r.onFailed != nil {
		r.onFailed(ctx, job, err)
	}
}

// deadLetter publishes rec. A sink failure is logged and does not block
// marking the job failed.
func (r *Runtime) deadLetter(ctx context.Context, rec deadletter.Record) {
	if r.dlq == nil {
		return
	}
	if err := r.dlq.Publish(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("queue", rec.Queue).Str("job_id", rec.JobID).Msg("dead-letter publish failed")
		return
	}
	r.metrics.Incr(ctx, aws.MetricDeadLetter, map[string]string{"Queue": rec.Queue, "Code": rec.Code})
}
