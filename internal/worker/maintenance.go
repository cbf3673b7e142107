package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
	"github.com/Subhanamir19/faccely-sub002/internal/deadletter"
)

var errStalled = apperr.New(apperr.CodeJobStalled, "lock expired before completion", nil)

// Maintain recovers stalled jobs and prunes finished ones. Jobs failed by
// stalled recovery are dead-lettered like any other terminal failure.
func (r *Runtime) Maintain(ctx context.Context) error {
	report, err := r.src.RecoverStalled(ctx, r.opts.Queue)
	if err != nil {
		return fmt.Errorf("recover stalled %s: %w", r.opts.Queue, err)
	}
	for _, job := range report.Failed {
		var latency time.Duration
		if job.ProcessedAt != nil {
			latency = r.now().Sub(*job.ProcessedAt)
		}
		r.deadLetter(ctx, deadletter.NewRecord(job.Queue, job.ID, job.AttemptsMade, latency,
			CodeStalled, "lock expired before completion", r.now()))
		r.failed(ctx, job, errStalled)
	}
	if err := r.src.Prune(ctx, r.opts.Queue); err != nil {
		return fmt.Errorf("prune %s: %w", r.opts.Queue, err)
	}
	return nil
}

// Pruner prunes a queue that has no runtime of its own.
type Pruner interface {
	Prune(ctx context.Context, queue string) error
}

// Scheduler runs Maintain for a set of runtimes on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	runtimes []*Runtime
	timeout  time.Duration

	pruner Pruner
	extra  []string
	logger *log.Logger
}

func NewScheduler(runtimes []*Runtime, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{cron: cron.New(), runtimes: runtimes, timeout: timeout}
}

// PruneQueues adds queues nobody consumes, such as the dead-letter queue,
// to every maintenance pass.
func (s *Scheduler) PruneQueues(p Pruner, logger *log.Logger, queues ...string) {
	s.pruner, s.logger, s.extra = p, logger, queues
}

// Start registers the maintenance pass under schedule, e.g. "@every 30s", and
// starts the scheduler.
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}
	s.cron.Start()
	return nil
}

// RunOnce runs one maintenance pass over every runtime.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	for _, r := range s.runtimes {
		if err := r.Maintain(ctx); err != nil {
			r.logger.Error().Err(err).Str("queue", r.opts.Queue).Msg("maintenance failed")
		}
	}
	for _, name := range s.extra {
		if err := s.pruner.Prune(ctx, name); err != nil {
			s.logger.Error().Err(err).Str("queue", name).Msg("prune failed")
		}
	}
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
