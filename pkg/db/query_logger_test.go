package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

func traceLines(t *testing.T, verbose bool, slow, elapsed time.Duration, err error) string {
	t.Helper()
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: &buf})
	ql := newQueryLogger(logg, slow, verbose)
	ql.Trace(context.Background(), time.Now().Add(-elapsed), func() (string, int64) {
		return "SELECT 1", 1
	}, err)
	return buf.String()
}

func TestQueryLoggerLevels(t *testing.T) {
	assert.Empty(t, traceLines(t, false, time.Second, time.Millisecond, nil), "fast statements are quiet by default")
	assert.Contains(t, traceLines(t, true, time.Second, time.Millisecond, nil), `"message":"statement"`)
	assert.Contains(t, traceLines(t, false, 10*time.Millisecond, 50*time.Millisecond, nil), "slow statement")
	assert.Empty(t, traceLines(t, false, time.Second, 0, gorm.ErrRecordNotFound))

	failed := traceLines(t, false, time.Second, 0, errors.New("syntax error"))
	assert.Contains(t, failed, `"level":"error"`)
	assert.Contains(t, failed, `"sql":"SELECT 1"`)

	conflict := traceLines(t, false, time.Second, 0, &pgconn.PgError{Code: "40001"})
	assert.Contains(t, conflict, `"level":"warn"`)
	assert.True(t, strings.Contains(conflict, "aborted by concurrent transaction"))
}

func TestQueryLoggerSilentAndDiscard(t *testing.T) {
	assert.Equal(t, gormlogger.Discard, newQueryLogger(nil, time.Second, true))

	var buf bytes.Buffer
	logg := logger.New(logger.Options{Output: &buf})
	silent := newQueryLogger(logg, time.Second, true).LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, errors.New("boom"))
	assert.Empty(t, buf.String())
}
