package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/meterly-backend/internal/subscriptions"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultSweepLimit   = 250
	defaultSweepBatches = 20
)

type subscriptionSweeper interface {
	ReconcileDue(ctx context.Context, limit int) (subscriptions.SweepResult, error)
}

// SubscriptionSweepJobParams configures the cycle sweep.
type SubscriptionSweepJobParams struct {
	Logger     *logger.Logger
	Sweeper    subscriptionSweeper
	Limit      int
	MaxBatches int
}

// NewSubscriptionSweepJob builds the job that reconciles subscriptions whose
// cycle or trial has run out without a read touching them.
func NewSubscriptionSweepJob(params SubscriptionSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("subscription sweeper required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	batches := params.MaxBatches
	if batches <= 0 {
		batches = defaultSweepBatches
	}
	return &subscriptionSweepJob{
		logg:       params.Logger,
		sweeper:    params.Sweeper,
		limit:      limit,
		maxBatches: batches,
	}, nil
}

type subscriptionSweepJob struct {
	logg       *logger.Logger
	sweeper    subscriptionSweeper
	limit      int
	maxBatches int
}

func (j *subscriptionSweepJob) Name() string { return "subscription-cycle-sweep" }

// Run drains due subscriptions batch by batch. A batch where every shop failed
// stops the loop so the same rows are not retried until the next run.
func (j *subscriptionSweepJob) Run(ctx context.Context) error {
	start := time.Now()
	var (
		errs        error
		checked     int
		failed      int
		undelivered int
	)
	for batch := 0; batch < j.maxBatches; batch++ {
		result, err := j.sweeper.ReconcileDue(ctx, j.limit)
		checked += result.Checked
		failed += result.Failed
		undelivered += result.Undelivered
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweep batch %d: %w", batch, err))
			break
		}
		if result.Checked < j.limit || result.Failed == result.Checked {
			break
		}
	}
	if failed > 0 {
		errs = multierr.Append(errs, fmt.Errorf("%d of %d subscriptions failed to reconcile", failed, checked))
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked":     checked,
		"failed":      failed,
		"undelivered": undelivered,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	j.logg.Info(logCtx, "subscription cycle sweep complete")
	return errs
}
