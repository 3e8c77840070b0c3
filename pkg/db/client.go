package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

const (
	defaultTxLockWait    = 15 * time.Second
	defaultTxTimeout     = 100 * time.Second
	defaultTxMaxAttempts = 3
	defaultTxBackoff     = time.Second

	bootPingTimeout = 5 * time.Second
)

// TxOptions bounds a serializable transaction: how long a statement may wait
// on a row lock, the overall deadline, and the conflict retry budget.
type TxOptions struct {
	LockWait    time.Duration
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

func (o TxOptions) normalized() TxOptions {
	if o.LockWait <= 0 {
		o.LockWait = defaultTxLockWait
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTxTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultTxMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultTxBackoff
	}
	return o
}

// RetryObserver is notified every time a serializable attempt aborts with a
// conflict and is about to be retried.
type RetryObserver interface {
	ObserveTxConflict(attempt int)
	ObserveTxExhausted()
}

// Client wraps the shared GORM connection.
type Client struct {
	conn     *gorm.DB
	txOpts   TxOptions
	observer RetryObserver
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens the Postgres pool, verifies it with a ping and wraps it with the
// configured transaction budget.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQuery, cfg.LogQueries),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	applyPoolSettings(sqlDB, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, bootPingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"max_open_conns":  cfg.MaxOpenConns,
			"tx_max_attempts": cfg.TxMaxAttempts,
		}), "database connection established")
	}

	return NewWithConn(conn, TxOptions{
		LockWait:    cfg.TxLockWait,
		Timeout:     cfg.TxTimeout,
		MaxAttempts: cfg.TxMaxAttempts,
		Backoff:     cfg.TxRetryBackoff,
	}), nil
}

// NewWithConn wraps an already opened connection.
func NewWithConn(conn *gorm.DB, opts TxOptions) *Client {
	return &Client{conn: conn, txOpts: opts.normalized()}
}

// SetRetryObserver installs a hook for conflict retries.
func (c *Client) SetRetryObserver(observer RetryObserver) {
	c.observer = observer
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction, rolling back on error/panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.runTx(ctx, nil, fn)
}

// WithSerializableTx runs fn in a serializable transaction and re-executes the
// whole callback on serialization or deadlock aborts. fn must re-read any state
// it depends on; values captured before a failed attempt are stale.
//
// Exhausted retries, lock waits and deadline overruns surface as
// CodeTransactionFailed with the driver error attached.
func (c *Client) WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	opts := c.txOpts.normalized()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(uint64(opts.MaxAttempts-1), retry.NewConstant(opts.Backoff))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.runTx(ctx, &sql.TxOptions{Isolation: c.isolation()}, func(tx *gorm.DB) error {
			if err := c.applyLockWait(tx, opts.LockWait); err != nil {
				return err
			}
			return fn(tx)
		})
		if err != nil && IsSerializationFailure(err) {
			if c.observer != nil {
				c.observer.ObserveTxConflict(attempt)
			}
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	if IsSerializationFailure(err) || IsLockTimeout(err) || ctx.Err() != nil {
		if c.observer != nil {
			c.observer.ObserveTxExhausted()
		}
		return pkgerrors.Wrap(pkgerrors.CodeTransactionFailed, err, fmt.Sprintf("transaction aborted after %d attempt(s)", attempt))
	}
	return err
}

func (c *Client) isolation() sql.IsolationLevel {
	if c.isPostgres() {
		return sql.LevelSerializable
	}
	return sql.LevelDefault
}

func (c *Client) applyLockWait(tx *gorm.DB, wait time.Duration) error {
	if !c.isPostgres() {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())).Error
}

func (c *Client) isPostgres() bool {
	return c.conn != nil && c.conn.Dialector != nil && c.conn.Dialector.Name() == "postgres"
}

func (c *Client) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *gorm.DB) error) error {
	var tx *gorm.DB
	if opts != nil {
		tx = c.conn.WithContext(ctx).Begin(opts)
	} else {
		tx = c.conn.WithContext(ctx).Begin()
	}
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
