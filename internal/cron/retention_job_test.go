package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

type fakePruner struct {
	cutoffs []time.Time
	rows    int64
	err     error
}

func (f *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.rows, f.err
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestRetentionJobCutoff(t *testing.T) {
	now := time.Date(2026, 5, 31, 15, 0, 0, 0, time.FixedZone("EST", -5*3600))
	pruner := &fakePruner{rows: 42}
	job, err := NewRetentionJob(RetentionJobParams{
		Logger: quietLogger(),
		Name:   "billing-events",
		Pruner: pruner,
		Days:   7,
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewRetentionJob: %v", err)
	}
	if job.Name() != "billing-events" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := time.Date(2026, 5, 24, 20, 0, 0, 0, time.UTC)
	if len(pruner.cutoffs) != 1 || !pruner.cutoffs[0].Equal(want) {
		t.Fatalf("expected cutoff %s, got %v", want, pruner.cutoffs)
	}
}

func TestNotificationCleanupJobDefaultsRetention(t *testing.T) {
	pruner := &fakePruner{}
	job, err := NewNotificationCleanupJob(quietLogger(), pruner, 0)
	if err != nil {
		t.Fatalf("NewNotificationCleanupJob: %v", err)
	}
	before := time.Now().UTC()
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	age := before.Sub(pruner.cutoffs[0])
	if age < 89*24*time.Hour || age > 91*24*time.Hour {
		t.Fatalf("expected a ~90 day cutoff, got %s", age)
	}
}

func TestRetentionJobPropagatesErrors(t *testing.T) {
	job, _ := NewRetentionJob(RetentionJobParams{
		Logger: quietLogger(),
		Name:   "notification-cleanup",
		Pruner: &fakePruner{err: errors.New("boom")},
		Days:   1,
	})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewRetentionJobValidates(t *testing.T) {
	cases := []RetentionJobParams{
		{Name: "x", Pruner: &fakePruner{}, Days: 1},
		{Logger: quietLogger(), Name: "x", Days: 1},
		{Logger: quietLogger(), Pruner: &fakePruner{}, Days: 1},
		{Logger: quietLogger(), Name: "x", Pruner: &fakePruner{}},
	}
	for i, params := range cases {
		if _, err := NewRetentionJob(params); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
