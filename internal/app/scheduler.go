/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/down/down-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.EventDeactivateSchedule, s.jobs.DeactivatePastEvents); err != nil {
		s.logger.Error("failed to schedule past-event deactivation job", "error", err)
	} else {
		s.logger.Info("scheduled past-event deactivation job", "schedule", s.config.EventDeactivateSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.IdleUserSweepSchedule, s.jobs.SweepIdleUsers); err != nil {
		s.logger.Error("failed to schedule idle-user sweep job", "error", err)
	} else {
		s.logger.Info("scheduled idle-user sweep job", "schedule", s.config.IdleUserSweepSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
