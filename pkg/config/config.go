package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Paystack     PaystackConfig
	Square       SquareConfig
	Payments     PaymentsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"STOREFRONT_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background workers expose /metrics; empty disables it.
	MetricsAddr string `envconfig:"STOREFRONT_METRICS_ADDR" default:":9091"`
}

type DBConfig struct {
	DSN string `envconfig:"STOREFRONT_DB_DSN"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"3s"`
	Namespace    string        `envconfig:"STOREFRONT_REDIS_NAMESPACE" default:"sf"`
}

// JWTConfig holds the shared secret used to validate storefront access tokens.
// Tokens are minted by the storefront session service.
type JWTConfig struct {
	Secret string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	// Audience is checked only when set.
	Audience string        `envconfig:"STOREFRONT_JWT_AUDIENCE"`
	Leeway   time.Duration `envconfig:"STOREFRONT_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type PaystackConfig struct {
	SecretKey     string        `envconfig:"STOREFRONT_PAYSTACK_SECRET_KEY" required:"true"`
	BaseURL       string        `envconfig:"STOREFRONT_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	Timeout       time.Duration `envconfig:"STOREFRONT_PAYSTACK_TIMEOUT" default:"10s"`
	VerifyRetries int           `envconfig:"STOREFRONT_PAYSTACK_VERIFY_RETRIES" default:"2"`
}

// WebhookSecret returns the key used to sign webhook deliveries. Paystack signs
// events with the account secret key.
func (p PaystackConfig) WebhookSecret() string {
	return strings.TrimSpace(p.SecretKey)
}

type SquareConfig struct {
	AccessToken string        `envconfig:"STOREFRONT_SQUARE_ACCESS_TOKEN" required:"true"`
	LocationID  string        `envconfig:"STOREFRONT_SQUARE_LOCATION_ID" required:"true"`
	Env         string        `envconfig:"STOREFRONT_SQUARE_ENV" default:"sandbox"`
	Timeout     time.Duration `envconfig:"STOREFRONT_SQUARE_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type PaymentsConfig struct {
	SuccessRedirectURL   string        `envconfig:"STOREFRONT_PAYMENTS_SUCCESS_URL" required:"true"`
	FailureRedirectURL   string        `envconfig:"STOREFRONT_PAYMENTS_FAILURE_URL" required:"true"`
	CallbackURL          string        `envconfig:"STOREFRONT_PAYMENTS_CALLBACK_URL"`
	Currency             string        `envconfig:"STOREFRONT_PAYMENTS_CURRENCY" default:"NGN"`
	WebhookDedupeTTL     time.Duration `envconfig:"STOREFRONT_PAYMENTS_WEBHOOK_DEDUPE_TTL" default:"24h"`
	InventoryConcurrency int           `envconfig:"STOREFRONT_PAYMENTS_INVENTORY_CONCURRENCY" default:"4"`
	StepTimeout          time.Duration `envconfig:"STOREFRONT_PAYMENTS_STEP_TIMEOUT" default:"10s"`
}

func (p PaymentsConfig) validate() error {
	for env, raw := range map[string]string{
		EnvPaymentsSuccessURL: p.SuccessRedirectURL,
		EnvPaymentsFailureURL: p.FailureRedirectURL,
	} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("%s must be an absolute url: %w", env, err)
		}
	}
	return nil
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
	// CredentialsJSON wins over ApplicationCredentials. With neither set the
	// client falls back to Application Default Credentials.
	CredentialsJSON        string `envconfig:"STOREFRONT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"STOREFRONT_PUBSUB_ORDERS_TOPIC" default:"storefront-order-events"`
	// CreateTopic creates a missing topic at startup instead of failing. Meant
	// for the local emulator.
	CreateTopic bool `envconfig:"STOREFRONT_PUBSUB_CREATE_TOPIC" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"STOREFRONT_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Tick           time.Duration `envconfig:"STOREFRONT_CRON_TICK" default:"30s"`
	Interval       time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"5m"`
	RetentionEvery time.Duration `envconfig:"STOREFRONT_CRON_RETENTION_EVERY" default:"24h"`
	LockTTL        time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"10m"`
	SweepBatchSize int           `envconfig:"STOREFRONT_CRON_SWEEP_BATCH_SIZE" default:"100"`
	SweepGrace     time.Duration `envconfig:"STOREFRONT_CRON_SWEEP_GRACE" default:"2m"`
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

// RateLimitConfig bounds shopper calls to the payment endpoints per user.
// A zero PerWindow disables limiting.
type RateLimitConfig struct {
	Window    time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_WINDOW" default:"1m"`
	PerWindow int           `envconfig:"STOREFRONT_RATE_LIMIT_PER_WINDOW" default:"60"`
}
