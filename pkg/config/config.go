// Package config reads process settings from DRIVE_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Reconcile    ReconcileConfig
	Orders       OrdersConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

// Load parses the environment and reports every invalid setting at once.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	err := multierr.Combine(
		cfg.DB.resolveDSN(),
		cfg.Reconcile.validate(),
		cfg.Outbox.validate(),
		cfg.Cron.validate(),
	)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DRIVE_APP_ENV" required:"true"`
	Port         string `envconfig:"DRIVE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DRIVE_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"DRIVE_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"DRIVE_LOG_WARN_STACK" default:"false"`
	InstanceID   string `envconfig:"DRIVE_INSTANCE_ID"`
}

// IsDev gates dev-only conveniences such as automatic migrations.
func (a AppConfig) IsDev() bool { return strings.EqualFold(a.Env, AppEnvDev) }

type ServiceConfig struct {
	Kind string `envconfig:"DRIVE_SERVICE_KIND" default:"api"`
}

// DBConfig takes either a full DSN or its parts.
type DBConfig struct {
	DSN    string `envconfig:"DRIVE_DB_DSN"`
	Driver string `envconfig:"DRIVE_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"DRIVE_DB_HOST"`
	Port     int    `envconfig:"DRIVE_DB_PORT" default:"5432"`
	User     string `envconfig:"DRIVE_DB_USER"`
	Password string `envconfig:"DRIVE_DB_PASSWORD"`
	Name     string `envconfig:"DRIVE_DB_NAME"`
	SSLMode  string `envconfig:"DRIVE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DRIVE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DRIVE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DRIVE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DRIVE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db *DBConfig) resolveDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.Host == "" || db.User == "" || db.Name == "" {
		return fmt.Errorf("set %s, or all of %s, %s and %s", EnvDBDSN, EnvDBHost, EnvDBUser, EnvDBName)
	}

	dsn := url.URL{
		Scheme: "postgres",
		User:   url.User(db.User),
		Host:   db.Host + ":" + strconv.Itoa(db.Port),
		Path:   db.Name,
	}
	if db.Password != "" {
		dsn.User = url.UserPassword(db.User, db.Password)
	}
	if db.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"DRIVE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DRIVE_REDIS_ADDR"`
	Password     string        `envconfig:"DRIVE_REDIS_PASSWORD"`
	DB           int           `envconfig:"DRIVE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DRIVE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DRIVE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DRIVE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DRIVE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DRIVE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig only covers verification; the accounts service issues tokens.
type JWTConfig struct {
	Secret string `envconfig:"DRIVE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"DRIVE_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DRIVE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"DRIVE_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL    time.Duration `envconfig:"DRIVE_EVENTING_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

// ReconcileConfig bounds the payment reconciliation unit of work.
type ReconcileConfig struct {
	Timeout  time.Duration `envconfig:"DRIVE_RECONCILE_TIMEOUT" default:"5s"`
	Currency string        `envconfig:"DRIVE_RECONCILE_CURRENCY" default:"eur"`
}

func (r ReconcileConfig) validate() error {
	return multierr.Combine(
		positive(EnvReconcileTimeout, r.Timeout),
		check(len(strings.TrimSpace(r.Currency)) == 3, "%s must be an ISO 4217 code", EnvReconcileCurrency),
	)
}

type OrdersConfig struct {
	PendingTTL time.Duration `envconfig:"DRIVE_ORDERS_PENDING_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"DRIVE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	// Endpoint points the client at an emulator. It disables authentication
	// and transport security.
	Endpoint      string `envconfig:"DRIVE_PUBSUB_ENDPOINT"`
	OrdersTopic   string `envconfig:"DRIVE_PUBSUB_ORDERS_TOPIC" default:"drive-order-events"`
	PaymentsTopic string `envconfig:"DRIVE_PUBSUB_PAYMENTS_TOPIC" default:"drive-payment-events"`
	StockTopic    string `envconfig:"DRIVE_PUBSUB_STOCK_TOPIC" default:"drive-stock-events"`
}

type OutboxConfig struct {
	BatchSize    int           `envconfig:"DRIVE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"DRIVE_OUTBOX_PUBLISH_POLL_INTERVAL" default:"500ms"`
	MaxAttempts  int           `envconfig:"DRIVE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention    time.Duration `envconfig:"DRIVE_OUTBOX_RETENTION" default:"720h"`
}

func (o OutboxConfig) validate() error {
	return multierr.Combine(
		check(o.BatchSize > 0, "%s must be positive", EnvOutboxBatchSize),
		check(o.MaxAttempts > 0, "%s must be positive", EnvOutboxMaxAttempts),
	)
}

type CronConfig struct {
	Interval time.Duration `envconfig:"DRIVE_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"DRIVE_CRON_LOCK_TTL" default:"4m"`
}

func (c CronConfig) validate() error {
	return multierr.Combine(
		positive(EnvCronInterval, c.Interval),
		positive(EnvCronLockTTL, c.LockTTL),
	)
}

// RateLimitConfig caps charge attempts per customer.
type RateLimitConfig struct {
	ChargeWindow time.Duration `envconfig:"DRIVE_RATE_LIMIT_CHARGE_WINDOW" default:"1m"`
	ChargeLimit  int           `envconfig:"DRIVE_RATE_LIMIT_CHARGE_LIMIT" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"DRIVE_STRIPE_API_KEY"`
	Secret string `envconfig:"DRIVE_STRIPE_SECRET"`
	Env    string `envconfig:"DRIVE_STRIPE_ENV" default:"test"`
}

// NormalizedMode is Env lowercased, "test" when blank.
func (s StripeConfig) NormalizedMode() string {
	if mode := strings.ToLower(strings.TrimSpace(s.Env)); mode != "" {
		return mode
	}
	return "test"
}

func positive(env string, d time.Duration) error {
	return check(d > 0, "%s must be positive", env)
}

func check(ok bool, format string, args ...any) error {
	if ok {
		return nil
	}
	return fmt.Errorf(format, args...)
}
