package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/xavier/internal/api"
	"github.com/aatumaykin/xavier/internal/config"
	"github.com/aatumaykin/xavier/internal/cron"
	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/metrics"
	"github.com/aatumaykin/xavier/internal/workers"
)

func newSchedulerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the cron scheduler service",
		Long: `Restore persisted tasks, serve the task API and post every fire to the
agent's /system_trigger endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			return runScheduler(cmd.Context(), cfg, log)
		},
	}
}

func runScheduler(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	sc := cfg.Scheduler
	log.Info("starting xavier scheduler",
		logger.Field{Key: "addr", Value: sc.Addr},
		logger.Field{Key: "trigger_url", Value: sc.TriggerURL},
		logger.Field{Key: "tasks_dir", Value: cfg.Data.CronDir()})

	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		return fmt.Errorf("invalid agent.timezone: %w", err)
	}

	m := metrics.New()

	history, err := cron.OpenHistory(sc.HistoryDB)
	if err != nil {
		return err
	}
	defer history.Close()

	sink := cron.NewHTTPSink(cron.HTTPSinkConfig{
		URL:            sc.TriggerURL,
		Timeout:        time.Duration(sc.TriggerTimeoutSeconds) * time.Second,
		MaxAttempts:    sc.RetryAttempts,
		InitialBackoff: time.Duration(sc.RetryInitialMillis) * time.Millisecond,
		MaxBackoff:     time.Duration(sc.RetryMaxMillis) * time.Millisecond,
	}, log)

	pool := workers.NewPool(sc.Workers, sc.QueueSize, log)
	pool.Start()

	scheduler, err := cron.NewScheduler(cron.Config{
		Storage:  cron.NewStorage(cfg.Data.CronDir(), log),
		Sink:     sink,
		Logger:   log,
		Pool:     pool,
		History:  history,
		Metrics:  m,
		Location: loc,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := scheduler.Restore(ctx); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}

	server := api.NewSchedulerServer(api.SchedulerServerConfig{
		Scheduler: scheduler,
		History:   history,
		Logger:    log,
		Metrics:   m,
	})
	serveErr := server.Serve(ctx, sc.Addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("failed to stop scheduler", logger.Field{Key: "error", Value: err.Error()})
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		log.Warn("fires still running at shutdown", logger.Field{Key: "error", Value: err.Error()})
	}

	log.Info("xavier scheduler stopped")
	return serveErr
}
