package config

// EnvPrefix is the envconfig prefix. Every field below also carries its full
// variable name as a tag, which is what operators set.
const EnvPrefix = "DRIVE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Variables referenced by validation messages and tests.
const (
	EnvAppEnv            = "DRIVE_APP_ENV"
	EnvPort              = "DRIVE_APP_PORT"
	EnvDBDSN             = "DRIVE_DB_DSN"
	EnvDBHost            = "DRIVE_DB_HOST"
	EnvDBUser            = "DRIVE_DB_USER"
	EnvDBName            = "DRIVE_DB_NAME"
	EnvDBPassword        = "DRIVE_DB_PASSWORD"
	EnvRedisURL          = "DRIVE_REDIS_URL"
	EnvJWTSecret         = "DRIVE_JWT_SECRET"
	EnvJWTIssuer         = "DRIVE_JWT_ISSUER"
	EnvReconcileTimeout  = "DRIVE_RECONCILE_TIMEOUT"
	EnvReconcileCurrency = "DRIVE_RECONCILE_CURRENCY"
	EnvOutboxBatchSize   = "DRIVE_OUTBOX_PUBLISH_BATCH_SIZE"
	EnvOutboxMaxAttempts = "DRIVE_OUTBOX_MAX_ATTEMPTS"
	EnvCronInterval      = "DRIVE_CRON_INTERVAL"
	EnvCronLockTTL       = "DRIVE_CRON_LOCK_TTL"
)
