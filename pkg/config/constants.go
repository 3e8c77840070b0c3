package config

const (
	EnvPrefix = "METERLY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv          = "METERLY_APP_ENV"
	EnvPort            = "METERLY_APP_PORT"
	EnvDBDSN           = "METERLY_DB_DSN"
	EnvDBHost          = "METERLY_DB_HOST"
	EnvDBUser          = "METERLY_DB_USER"
	EnvDBName          = "METERLY_DB_NAME"
	EnvRedisURL        = "METERLY_REDIS_URL"
	EnvTrialNotifyDays = "METERLY_TRIAL_NOTIFY_DAYS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
