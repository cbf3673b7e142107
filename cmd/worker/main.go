package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/Subhanamir19/faccely-sub002/internal/app"
	"github.com/Subhanamir19/faccely-sub002/internal/config"
	"github.com/Subhanamir19/faccely-sub002/internal/jobs"
	"github.com/Subhanamir19/faccely-sub002/internal/logging"
	"github.com/Subhanamir19/faccely-sub002/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.Server.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.NewCore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init dependencies")
	}
	defer core.Close()

	if err := core.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate dead-letter archive")
	}

	pipeline, _, err := core.NewPipeline(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init provider")
	}
	guard, _ := core.NewGuard()
	tasks := jobs.NewTasks(pipeline)
	dlq := core.DeadLetter()

	runtimes := make([]*worker.Runtime, 0, len(cfg.Worker.Queues))
	for _, name := range cfg.Worker.Queues {
		task, err := tasks.Lookup(name)
		if err != nil {
			logger.Fatal().Err(err).Msg("unknown worker queue")
		}
		rt, err := worker.New(core.Queue, worker.TaskFunc(task), dlq, worker.Options{
			Queue:        name,
			Concurrency:  cfg.Worker.Concurrency,
			Timeout:      cfg.Worker.Timeout,
			LockDuration: cfg.Worker.LockDuration,
			PollInterval: cfg.Worker.PollInterval,
		}, logger, core.Metrics)
		if err != nil {
			logger.Fatal().Err(err).Str("queue", name).Msg("failed to init worker")
		}
		app.WriteBack(rt, guard, logger)
		runtimes = append(runtimes, rt)
	}

	sched := worker.NewScheduler(runtimes, cfg.Worker.LockDuration)
	sched.PruneQueues(core.Queue, logger, jobs.QueueDeadLetter)
	if err := sched.Start(cfg.Queue.MaintenanceSchedule); err != nil {
		logger.Fatal().Err(err).Msg("failed to start maintenance")
	}
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range runtimes {
		g.Go(func() error { return rt.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker exited")
	}
}
