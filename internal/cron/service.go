package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/metrics"
)

const (
	defaultInterval   = time.Hour
	defaultJobTimeout = 30 * time.Minute
)

// ErrLockLost stops a cycle whose lease expired or was taken over between
// jobs. The remaining jobs run on the next cycle.
var ErrLockLost = errors.New("cron lock lost")

type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.CronMetrics
	Interval   time.Duration
	JobTimeout time.Duration
	Now        func() time.Time
}

// Service runs every registered job once per interval on whichever worker
// holds the lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

// JobReport is the outcome of one job inside a cycle.
type JobReport struct {
	Name     string
	Duration time.Duration
	Err      error
}

// CycleReport describes one pass over the registry.
type CycleReport struct {
	Skipped bool
	Jobs    []JobReport
}

// Err joins the job failures, nil when every job succeeded.
func (r CycleReport) Err() error {
	var err error
	for _, job := range r.Jobs {
		if job.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", job.Name, job.Err))
		}
	}
	return err
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	svc := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        params.Now,
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.jobTimeout <= 0 {
		svc.jobTimeout = defaultJobTimeout
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Run executes a cycle immediately and then once per interval until ctx is
// done. Job failures are logged and never stop the loop.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single cycle. The error covers lock failures and
// ErrLockLost; per-job failures are only in the report.
func (s *Service) RunOnce(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return report, err
	}
	if !held {
		report.Skipped = true
		s.metrics.ObserveCycle(true)
		s.logg.Info(ctx, "cron lock held elsewhere, skipping cycle")
		return report, nil
	}
	s.metrics.ObserveCycle(false)
	defer func() {
		// a cancelled run context must not leave the lease behind
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "cron lock release failed", err)
		}
	}()

	jobs := s.registry.Jobs()
	s.logg.Info(s.logg.WithField(ctx, "jobs", s.registry.Names()), "cron cycle starting")
	for i, job := range jobs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if i > 0 {
			ok, err := s.lock.Refresh(ctx)
			if err != nil {
				return report, err
			}
			if !ok {
				return report, ErrLockLost
			}
		}
		report.Jobs = append(report.Jobs, s.runJob(ctx, job))
	}

	if err := report.Err(); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "failed_jobs", len(multierr.Errors(err))), "cron cycle finished with failures")
	} else {
		s.logg.Info(ctx, "cron cycle finished")
	}
	return report, nil
}

func (s *Service) runJob(ctx context.Context, job Job) JobReport {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	runCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := s.now()
	err := runSafely(runCtx, job)
	end := s.now()
	took := end.Sub(start)
	s.metrics.ObserveJob(name, took, err, end)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron job failed", err)
	} else {
		s.logg.Info(jobCtx, "cron job completed")
	}
	return JobReport{Name: name, Duration: took, Err: err}
}

func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return job.Run(ctx)
}
