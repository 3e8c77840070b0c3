package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

const defaultNotificationRetentionDays = 90

// Pruner deletes rows created before cutoff and returns how many went.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type RetentionJobParams struct {
	Logger *logger.Logger
	// Name labels the job in logs and metrics.
	Name   string
	Pruner Pruner
	Days   int
	Now    func() time.Time
}

// NewRetentionJob builds a job that prunes everything older than Days
// calendar days, measured in UTC.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pruner == nil {
		return nil, fmt.Errorf("pruner required")
	}
	if params.Name == "" {
		return nil, fmt.Errorf("name required")
	}
	if params.Days <= 0 {
		return nil, fmt.Errorf("retention days must be positive")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &retentionJob{
		logg:   params.Logger,
		name:   params.Name,
		pruner: params.Pruner,
		days:   params.Days,
		now:    now,
	}, nil
}

// NewNotificationCleanupJob prunes the notification log. A non-positive
// retention falls back to 90 days.
func NewNotificationCleanupJob(logg *logger.Logger, notifications Pruner, days int) (Job, error) {
	if days <= 0 {
		days = defaultNotificationRetentionDays
	}
	return NewRetentionJob(RetentionJobParams{
		Logger: logg,
		Name:   "notification-cleanup",
		Pruner: notifications,
		Days:   days,
	})
}

type retentionJob struct {
	logg   *logger.Logger
	name   string
	pruner Pruner
	days   int
	now    func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.days)
	deleted, err := j.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "retention pass complete")
	return nil
}
