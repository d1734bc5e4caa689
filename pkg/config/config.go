package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App         AppConfig
	Service     ServiceConfig
	DB          DBConfig
	Redis       RedisConfig
	JWT         JWTConfig
	GCP         GCPConfig
	PubSub      PubSubConfig
	BigQuery    BigQueryConfig
	Stripe      StripeConfig
	Square      SquareConfig
	Payments    PaymentsConfig
	Marketplace MarketplaceConfig
	Eventing    EventingConfig
	Outbox      OutboxConfig
	Cron        CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Marketplace.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"MERCATO_APP_ENV" required:"true"`
	Port         string   `envconfig:"MERCATO_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"MERCATO_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"MERCATO_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"MERCATO_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool     `envconfig:"MERCATO_AUTO_MIGRATE" default:"false"`
	CORSOrigins  []string `envconfig:"MERCATO_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MERCATO_SERVICE_KIND" default:"api"`
	// MetricsAddr exposes /metrics on background workers; empty disables it.
	MetricsAddr string `envconfig:"MERCATO_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"MERCATO_DB_DSN"`
	Driver string `envconfig:"MERCATO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MERCATO_DB_HOST"`
	LegacyPort     int    `envconfig:"MERCATO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MERCATO_DB_USER"`
	LegacyPassword string `envconfig:"MERCATO_DB_PASSWORD"`
	LegacyName     string `envconfig:"MERCATO_DB_NAME"`
	LegacySSLMode  string `envconfig:"MERCATO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MERCATO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MERCATO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MERCATO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MERCATO_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"MERCATO_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MERCATO_REDIS_URL" required:"true"`
	Password     string        `envconfig:"MERCATO_REDIS_PASSWORD"`
	DB           int           `envconfig:"MERCATO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MERCATO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MERCATO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MERCATO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MERCATO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MERCATO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig validates access tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"MERCATO_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"MERCATO_JWT_ISSUER" required:"true"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MERCATO_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MERCATO_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MERCATO_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic            string `envconfig:"MERCATO_PUBSUB_ORDERS_TOPIC" default:"mercato-order-events"`
	PaymentsTopic          string `envconfig:"MERCATO_PUBSUB_PAYMENTS_TOPIC" default:"mercato-payment-events"`
	FinanceTopic           string `envconfig:"MERCATO_PUBSUB_FINANCE_TOPIC" default:"mercato-finance-events"`
	ComplianceTopic        string `envconfig:"MERCATO_PUBSUB_COMPLIANCE_TOPIC" default:"mercato-compliance-events"`
	ComplianceSubscription string `envconfig:"MERCATO_PUBSUB_COMPLIANCE_SUBSCRIPTION" default:"mercato-compliance-bq"`
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"MERCATO_BIGQUERY_DATASET" default:"mercato"`
	ComplianceTable string `envconfig:"MERCATO_BIGQUERY_COMPLIANCE_TABLE" default:"compliance_log"`
	// CreateTable provisions a missing compliance table at startup.
	CreateTable bool `envconfig:"MERCATO_BIGQUERY_CREATE_TABLE" default:"false"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"MERCATO_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"MERCATO_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"MERCATO_STRIPE_ENV" default:"test"`

	// WebhookTolerance bounds the signed timestamp age accepted on webhooks.
	WebhookTolerance time.Duration `envconfig:"MERCATO_STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

type SquareConfig struct {
	AccessToken         string `envconfig:"MERCATO_SQUARE_ACCESS_TOKEN"`
	LocationID          string `envconfig:"MERCATO_SQUARE_LOCATION_ID"`
	Env                 string `envconfig:"MERCATO_SQUARE_ENV" default:"sandbox"`
	WebhookSignatureKey string `envconfig:"MERCATO_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	WebhookURL          string `envconfig:"MERCATO_SQUARE_WEBHOOK_URL"`
}

func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

type PaymentsConfig struct {
	DefaultProvider string            `envconfig:"MERCATO_PAYMENTS_DEFAULT_PROVIDER" default:"stripe"`
	CurrencyRoutes  map[string]string `envconfig:"MERCATO_PAYMENTS_CURRENCY_ROUTES"`
	EnableManual    bool              `envconfig:"MERCATO_PAYMENTS_ENABLE_MANUAL" default:"false"`
	PayoutProvider  string            `envconfig:"MERCATO_PAYOUTS_PROVIDER" default:"stripe"`
}

type MarketplaceConfig struct {
	Currency             string `envconfig:"MERCATO_CURRENCY" default:"USD"`
	ReturnWindowDays     int    `envconfig:"MERCATO_RETURN_WINDOW_DAYS" default:"14"`
	AcceptanceHours      int    `envconfig:"MERCATO_ACCEPTANCE_HOURS" default:"48"`
	DefaultCommissionBps int    `envconfig:"MERCATO_DEFAULT_COMMISSION_BPS" default:"1000"`
	InvoiceTaxBps        int    `envconfig:"MERCATO_INVOICE_TAX_BPS" default:"0"`
}

func (m MarketplaceConfig) ReturnWindow() time.Duration {
	return time.Duration(m.ReturnWindowDays) * 24 * time.Hour
}

func (m MarketplaceConfig) AcceptanceWindow() time.Duration {
	return time.Duration(m.AcceptanceHours) * time.Hour
}

func (m MarketplaceConfig) validate() error {
	if len(strings.TrimSpace(m.Currency)) != 3 {
		return fmt.Errorf("%s must be an ISO-4217 code", EnvCurrency)
	}
	if m.ReturnWindowDays < 0 || m.AcceptanceHours <= 0 {
		return fmt.Errorf("%s and %s must be positive", EnvReturnWindowDays, EnvAcceptanceHours)
	}
	if m.DefaultCommissionBps < 0 || m.DefaultCommissionBps > 10000 {
		return fmt.Errorf("%s must be between 0 and 10000", EnvDefaultCommissionBps)
	}
	if m.InvoiceTaxBps < 0 || m.InvoiceTaxBps > 10000 {
		return fmt.Errorf("%s must be between 0 and 10000", EnvInvoiceTaxBps)
	}
	return nil
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"MERCATO_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MERCATO_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MERCATO_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MERCATO_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// CronConfig drives the scheduled marketplace jobs.
type CronConfig struct {
	Tick                time.Duration `envconfig:"MERCATO_CRON_TICK" default:"5m"`
	LockTTL             time.Duration `envconfig:"MERCATO_CRON_LOCK_TTL" default:"30m"`
	JobTimeout          time.Duration `envconfig:"MERCATO_CRON_JOB_TIMEOUT" default:"10m"`
	BatchSize           int           `envconfig:"MERCATO_CRON_BATCH_SIZE" default:"200"`
	EscrowEvery         time.Duration `envconfig:"MERCATO_CRON_ESCROW_EVERY" default:"15m"`
	PayoutEvery         time.Duration `envconfig:"MERCATO_CRON_PAYOUT_EVERY" default:"1h"`
	OutboxRetentionDays int           `envconfig:"MERCATO_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays    int           `envconfig:"MERCATO_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
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
