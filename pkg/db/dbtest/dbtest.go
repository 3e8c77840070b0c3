// Package dbtest opens throwaway sqlite databases carrying the full schema.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/meterly-backend/pkg/db"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
)

// OneLiveSubscriptionIndex mirrors the Postgres partial index.
const OneLiveSubscriptionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_live
	ON subscriptions (shop_id) WHERE status IN ('ACTIVE', 'ON_HOLD', 'TRIAL')`

// Open returns a migrated in-memory database private to the test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	if err := conn.Exec(OneLiveSubscriptionIndex).Error; err != nil {
		t.Fatalf("live subscription index: %v", err)
	}
	return conn
}

// Client wraps Open in a db.Client with a fast retry budget.
func Client(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewWithConn(conn, db.TxOptions{Backoff: time.Millisecond, Timeout: 10 * time.Second}), conn
}

// Create inserts fixtures, failing the test on error.
func Create(t *testing.T, conn *gorm.DB, values ...any) {
	t.Helper()
	for _, v := range values {
		if err := conn.Create(v).Error; err != nil {
			t.Fatalf("create fixture %T: %v", v, err)
		}
	}
}
