package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/meterly-backend/internal/subscriptions"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

type fakeSweeper struct {
	results []subscriptions.SweepResult
	err     error
	calls   int
	limits  []int
}

func (f *fakeSweeper) ReconcileDue(ctx context.Context, limit int) (subscriptions.SweepResult, error) {
	f.calls++
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return subscriptions.SweepResult{}, f.err
	}
	if len(f.results) == 0 {
		return subscriptions.SweepResult{}, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next, nil
}

func newSweepJob(t *testing.T, sweeper *fakeSweeper, limit int) Job {
	t.Helper()
	job, err := NewSubscriptionSweepJob(SubscriptionSweepJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Sweeper: sweeper,
		Limit:   limit,
	})
	if err != nil {
		t.Fatalf("NewSubscriptionSweepJob: %v", err)
	}
	return job
}

func TestSubscriptionSweepJobDrainsFullBatches(t *testing.T) {
	sweeper := &fakeSweeper{results: []subscriptions.SweepResult{
		{Checked: 2},
		{Checked: 2},
		{Checked: 1},
	}}
	job := newSweepJob(t, sweeper, 2)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", sweeper.calls)
	}
	for _, limit := range sweeper.limits {
		if limit != 2 {
			t.Fatalf("expected limit 2, got %d", limit)
		}
	}
}

func TestSubscriptionSweepJobReportsFailures(t *testing.T) {
	sweeper := &fakeSweeper{results: []subscriptions.SweepResult{{Checked: 3, Failed: 1}}}
	job := newSweepJob(t, sweeper, 10)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error for failed reconciliations")
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected a single batch, got %d", sweeper.calls)
	}
}

func TestSubscriptionSweepJobStopsWhenBatchOnlyFails(t *testing.T) {
	sweeper := &fakeSweeper{results: []subscriptions.SweepResult{
		{Checked: 2, Failed: 2},
		{Checked: 2},
	}}
	job := newSweepJob(t, sweeper, 2)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected loop to stop after failing batch, got %d calls", sweeper.calls)
	}
}

func TestSubscriptionSweepJobPropagatesListErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	job := newSweepJob(t, sweeper, 0)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if job.Name() != "subscription-cycle-sweep" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
}
