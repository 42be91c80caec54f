package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Features  FeatureFlagsConfig
	Square    SquareConfig
	Webhook   WebhookConfig
	Reconcile ReconcileConfig
	Checkout  CheckoutConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
	Cron      CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STUDIOBOOK_APP_ENV" required:"true"`
	Port         string `envconfig:"STUDIOBOOK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STUDIOBOOK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STUDIOBOOK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STUDIOBOOK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STUDIOBOOK_DB_DSN"`
	Driver string `envconfig:"STUDIOBOOK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STUDIOBOOK_DB_HOST"`
	LegacyPort     int    `envconfig:"STUDIOBOOK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STUDIOBOOK_DB_USER"`
	LegacyPassword string `envconfig:"STUDIOBOOK_DB_PASSWORD"`
	LegacyName     string `envconfig:"STUDIOBOOK_DB_NAME"`
	LegacySSLMode  string `envconfig:"STUDIOBOOK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STUDIOBOOK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STUDIOBOOK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STUDIOBOOK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STUDIOBOOK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STUDIOBOOK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STUDIOBOOK_REDIS_ADDR"`
	Password     string        `envconfig:"STUDIOBOOK_REDIS_PASSWORD"`
	DB           int           `envconfig:"STUDIOBOOK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STUDIOBOOK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STUDIOBOOK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STUDIOBOOK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STUDIOBOOK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STUDIOBOOK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STUDIOBOOK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STUDIOBOOK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STUDIOBOOK_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STUDIOBOOK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STUDIOBOOK_AUTO_MIGRATE" default:"false"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"STUDIOBOOK_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"STUDIOBOOK_SQUARE_WEBHOOK_SECRET"`
	Env           string `envconfig:"STUDIOBOOK_SQUARE_ENV" default:"sandbox"`
	LocationID    string `envconfig:"STUDIOBOOK_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"STUDIOBOOK_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type ReconcileConfig struct {
	TxTimeout   time.Duration `envconfig:"STUDIOBOOK_RECONCILE_TX_TIMEOUT" default:"10s"`
	MaxAttempts int           `envconfig:"STUDIOBOOK_RECONCILE_MAX_ATTEMPTS" default:"3"`
}

type CheckoutConfig struct {
	PaymentLinkTTL  time.Duration `envconfig:"STUDIOBOOK_CHECKOUT_PAYMENT_LINK_TTL" default:"24h"`
	RateLimitWindow time.Duration `envconfig:"STUDIOBOOK_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitIP     int           `envconfig:"STUDIOBOOK_CHECKOUT_RATE_LIMIT_IP" default:"30"`
	RateLimitUser   int           `envconfig:"STUDIOBOOK_CHECKOUT_RATE_LIMIT_USER" default:"10"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STUDIOBOOK_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"STUDIOBOOK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STUDIOBOOK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ReservationTopic        string `envconfig:"STUDIOBOOK_PUBSUB_RESERVATION_TOPIC" default:"sb-reservation-events"`
	ReservationSubscription string `envconfig:"STUDIOBOOK_PUBSUB_RESERVATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STUDIOBOOK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STUDIOBOOK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STUDIOBOOK_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"STUDIOBOOK_CRON_INTERVAL" default:"15m"`
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
