/**
 * @description
 * Scheduled job implementations for background maintenance.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// EventMaintenance defines the event-store operations the jobs need.
type EventMaintenance interface {
	DeactivatePastEvents(ctx context.Context) (int64, error)
}

// UserMaintenance defines the user-store operations the jobs need.
type UserMaintenance interface {
	MarkIdleUsersInactive(ctx context.Context, idleDays int) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	events     EventMaintenance
	users      UserMaintenance
	idleDays   int
	jobTimeout time.Duration
	logger     *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(events EventMaintenance, users UserMaintenance, idleDays int, logger *slog.Logger) *Jobs {
	return &Jobs{
		events:     events,
		users:      users,
		idleDays:   idleDays,
		jobTimeout: time.Minute,
		logger:     logger,
	}
}

// DeactivatePastEvents flips is_active off for events whose time has passed.
func (j *Jobs) DeactivatePastEvents() {
	j.logger.Info("starting past-event deactivation job")
	ctx, cancel := context.WithTimeout(context.Background(), j.jobTimeout)
	defer cancel()

	n, err := j.events.DeactivatePastEvents(ctx)
	if err != nil {
		j.logger.Error("failed to deactivate past events", "error", err)
		return
	}
	j.logger.Info("past-event deactivation job finished", "deactivated", n)
}

// SweepIdleUsers marks long-inactive users as inactive.
func (j *Jobs) SweepIdleUsers() {
	j.logger.Info("starting idle-user sweep job", "idle_days", j.idleDays)
	ctx, cancel := context.WithTimeout(context.Background(), j.jobTimeout)
	defer cancel()

	n, err := j.users.MarkIdleUsersInactive(ctx, j.idleDays)
	if err != nil {
		j.logger.Error("failed to sweep idle users", "error", err)
		return
	}
	j.logger.Info("idle-user sweep job finished", "marked_inactive", n)
}
