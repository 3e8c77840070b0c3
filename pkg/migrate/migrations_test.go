package migrate_test

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/migrate"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, migrate.Validate(migrate.Embedded()))
}

func TestEmbeddedMigrationsDefineBillingSchema(t *testing.T) {
	fsys := migrate.Embedded()
	names, err := fs.Glob(fsys, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	var all strings.Builder
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		require.NoError(t, err)
		all.Write(data)
	}
	content := all.String()

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS shops",
		"CREATE TABLE IF NOT EXISTS plans",
		"CREATE TABLE IF NOT EXISTS credit_packages",
		"CREATE TABLE IF NOT EXISTS usages",
		"CREATE TABLE IF NOT EXISTS service_usages",
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"CREATE TABLE IF NOT EXISTS credit_purchases",
		"CREATE TABLE IF NOT EXISTS payments",
		"CREATE TABLE IF NOT EXISTS promotions",
		"CREATE TABLE IF NOT EXISTS billing_events",
		"CREATE TABLE IF NOT EXISTS notifications",
		"CREATE TABLE IF NOT EXISTS idempotency_keys",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_live",
		"WHERE status IN ('ACTIVE', 'ON_HOLD', 'TRIAL')",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_idempotency_keys_scope",
		"chk_service_usages_requests_balance",
		"'FREE', 0, 'USD', 0, true",
	} {
		assert.Contains(t, content, want)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101000000_ok.sql":      {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260101000000_dup.sql":     {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260102000000_no_down.sql": {Data: []byte("-- +goose Up\n")},
		"2026_bad-name.sql":          {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"README.md":                  {Data: []byte("ignored")},
	}
	err := migrate.Validate(fsys)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)

	assert.Error(t, migrate.Validate(fstest.MapFS{}))
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 2, 10, 4, 5, 0, time.UTC)

	path, err := migrate.CreateSQLMigration(dir, "Add Shop Notes!", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260302100405_add_shop_notes.sql"), path)
	require.NoError(t, migrate.Validate(os.DirFS(dir)))

	_, err = migrate.CreateSQLMigration(dir, "add shop notes", at)
	assert.Error(t, err, "same version and slug must not overwrite")

	_, err = migrate.CreateSQLMigration(dir, "!!!", at)
	assert.Error(t, err)
}

func TestRunnerMovesBetweenVersions(t *testing.T) {
	ctx := context.Background()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	fsys := fstest.MapFS{
		"00001_shops.sql":            {Data: []byte(`-- +goose Up
CREATE TABLE shops (id TEXT PRIMARY KEY, name TEXT NOT NULL);
-- +goose Down
DROP TABLE shops;
`)},
		"00002_plans.sql":            {Data: []byte(`-- +goose Up
CREATE TABLE plans (name TEXT PRIMARY KEY);
-- +goose Down
DROP TABLE plans;
`)},
	}
	runner, err := migrate.NewRunner(sqlDB, goose.DialectSQLite3, fsys, logger.New(logger.Options{Output: io.Discard}))
	require.NoError(t, err)

	pending, err := runner.Pending(ctx)
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, runner.Up(ctx))
	version, err := runner.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	require.NoError(t, runner.Redo(ctx))
	require.NoError(t, runner.To(ctx, 1))
	version, err = runner.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	statuses, err := runner.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, goose.StateApplied, statuses[0].State)
	assert.Equal(t, goose.StatePending, statuses[1].State)

	require.NoError(t, runner.To(ctx, 0))
	assert.False(t, conn.Migrator().HasTable("shops"))
}
