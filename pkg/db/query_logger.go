package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

// queryLogger routes GORM statement traces into the service logger. Failed
// statements log at error, conflict aborts and slow statements at warn, and
// everything else only when the level is Info.
type queryLogger struct {
	logg  *logger.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

func newQueryLogger(logg *logger.Logger, slow time.Duration, verbose bool) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	level := gormlogger.Warn
	if verbose {
		level = gormlogger.Info
	}
	return &queryLogger{logg: logg, slow: slow, level: level}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *q
	next.level = level
	return &next
}

func (q *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Info {
		q.logg.Info(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Warn {
		q.logg.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Error {
		q.logg.Error(ctx, fmt.Sprintf(msg, args...), nil)
	}
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	fields := func() context.Context {
		sql, rows := fc()
		return q.logg.WithFields(ctx, map[string]any{
			"sql":        sql,
			"rows":       rows,
			"elapsed_ms": elapsed.Milliseconds(),
		})
	}

	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil && (IsSerializationFailure(err) || IsLockTimeout(err)):
		if q.level >= gormlogger.Warn {
			q.logg.Warn(fields(), "statement aborted by concurrent transaction")
		}
		return
	case err != nil:
		if q.level >= gormlogger.Error {
			q.logg.Error(fields(), "statement failed", err)
		}
		return
	}

	switch {
	case q.slow > 0 && elapsed > q.slow && q.level >= gormlogger.Warn:
		q.logg.Warn(fields(), "slow statement")
	case q.level >= gormlogger.Info:
		q.logg.Info(fields(), "statement")
	}
}
