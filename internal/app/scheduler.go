/**
 * @description
 * Cron wiring for the maintenance jobs: bank catalog refresh and the stale pending report.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/fundflow/settlement-service/internal/config"
	"github.com/robfig/cron/v3"
)

type scheduledJob struct {
	name     string
	schedule string
	run      func()
}

// Scheduler runs Jobs on the schedules from config.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	entries []scheduledJob
}

// NewScheduler wraps every job with panic recovery and skips a run while the previous
// one is still going.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:    c,
		logger:  logger,
		entries: []scheduledJob{
			{name: "bank_catalog_sync", schedule: cfg.BankSyncSchedule, run: jobs.SyncBankCatalog},
			{name: "stale_pending_report", schedule: cfg.StalePendingSchedule, run: jobs.ReportStalePending},
		},
	}
}

// Start registers every job with a valid schedule and starts the cron loop. It returns
// how many jobs were scheduled.
func (s *Scheduler) Start() int {
	scheduled := 0
	for _, job := range s.entries {
		id, err := s.cron.AddFunc(job.schedule, job.run)
		if err != nil {
			s.logger.Error("failed to schedule job", "job", job.name, "schedule", job.schedule, "error", err)
			continue
		}
		scheduled++
		s.logger.Info("scheduled job", "job", job.name, "schedule", job.schedule, "entry_id", int(id))
	}

	s.cron.Start()
	return scheduled
}

// Stop stops the cron loop. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
