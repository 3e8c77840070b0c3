package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Billing      BillingConfig
	Email        EmailConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Billing.TrialNotificationSchedule(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"METERLY_APP_ENV" required:"true"`
	Port         string `envconfig:"METERLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"METERLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"METERLY_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"METERLY_LOG_FORMAT" default:"json"`

	CORSOrigins []string `envconfig:"METERLY_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"METERLY_DB_DSN"`

	LegacyHost     string `envconfig:"METERLY_DB_HOST"`
	LegacyPort     int    `envconfig:"METERLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"METERLY_DB_USER"`
	LegacyPassword string `envconfig:"METERLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"METERLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"METERLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"METERLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"METERLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"METERLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"METERLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// Serializable transaction harness.
	TxLockWait     time.Duration `envconfig:"METERLY_DB_TX_LOCK_WAIT" default:"15s"`
	TxTimeout      time.Duration `envconfig:"METERLY_DB_TX_TIMEOUT" default:"100s"`
	TxMaxAttempts  int           `envconfig:"METERLY_DB_TX_MAX_ATTEMPTS" default:"3"`
	TxRetryBackoff time.Duration `envconfig:"METERLY_DB_TX_RETRY_BACKOFF" default:"1s"`

	SlowQuery  time.Duration `envconfig:"METERLY_DB_SLOW_QUERY" default:"500ms"`
	LogQueries bool          `envconfig:"METERLY_DB_LOG_QUERIES" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"METERLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"METERLY_REDIS_ADDR"`
	Password     string        `envconfig:"METERLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"METERLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"METERLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"METERLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"METERLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"METERLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"METERLY_REDIS_WRITE_TIMEOUT" default:"5s"`
	Namespace    string        `envconfig:"METERLY_REDIS_NAMESPACE" default:"meterly"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"METERLY_AUTO_MIGRATE" default:"false"`
}

// BillingConfig feeds the immutable policy structs handed to the lifecycle
// manager, the usage ledger and the notification dispatcher.
type BillingConfig struct {
	FreePlanName          string        `envconfig:"METERLY_FREE_PLAN_NAME" default:"FREE"`
	TrialNotifyDays       string        `envconfig:"METERLY_TRIAL_NOTIFY_DAYS" default:"4,2"`
	NotificationDedup     time.Duration `envconfig:"METERLY_NOTIFICATION_DEDUP_WINDOW" default:"24h"`
	StatusDebounce        time.Duration `envconfig:"METERLY_STATUS_DEBOUNCE" default:"30m"`
	ApproachingThreshold  float64       `envconfig:"METERLY_USAGE_APPROACHING_THRESHOLD" default:"0.8"`
	OverLimitThreshold    float64       `envconfig:"METERLY_USAGE_OVER_LIMIT_THRESHOLD" default:"1.0"`
	Currency              string        `envconfig:"METERLY_CURRENCY" default:"USD"`
	CatalogCacheTTL       time.Duration `envconfig:"METERLY_CATALOG_CACHE_TTL" default:"5m"`
	UsageIdempotencyTTL   time.Duration `envconfig:"METERLY_USAGE_IDEMPOTENCY_TTL" default:"168h"`
	NotificationRetention int           `envconfig:"METERLY_NOTIFICATION_RETENTION_DAYS" default:"90"`
}

// TrialNotificationSchedule parses the comma separated day list.
func (b BillingConfig) TrialNotificationSchedule() ([]int, error) {
	raw := strings.TrimSpace(b.TrialNotifyDays)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	days := make([]int, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || value < 0 {
			return nil, fmt.Errorf("invalid %s entry %q", EnvTrialNotifyDays, part)
		}
		days = append(days, value)
	}
	return days, nil
}

type EmailConfig struct {
	PostmarkServerToken  string `envconfig:"METERLY_POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `envconfig:"METERLY_POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `envconfig:"METERLY_SENDER_EMAIL" default:"billing@meterly.dev"`
	SupportEmail         string `envconfig:"METERLY_SUPPORT_EMAIL" default:"support@meterly.dev"`
}

// Enabled reports whether outbound email is configured.
func (e EmailConfig) Enabled() bool {
	return strings.TrimSpace(e.PostmarkServerToken) != "" && strings.TrimSpace(e.PostmarkAccountToken) != ""
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"METERLY_CRON_INTERVAL" default:"1h"`
	SweepLimit int           `envconfig:"METERLY_CRON_SWEEP_LIMIT" default:"250"`
	LockTTL    time.Duration `envconfig:"METERLY_CRON_LOCK_TTL" default:"2h"`
	JobTimeout time.Duration `envconfig:"METERLY_CRON_JOB_TIMEOUT" default:"30m"`

	// MetricsAddr serves /metrics from the worker when set, e.g. ":9102".
	MetricsAddr string `envconfig:"METERLY_CRON_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
