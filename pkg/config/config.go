package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ODOOSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Sync         SyncConfig
	Notify       NotifyConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"ODOOSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"ODOOSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ODOOSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ODOOSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ODOOSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"ODOOSYNC_DB_DSN"`

	Host     string `envconfig:"ODOOSYNC_DB_HOST"`
	Port     int    `envconfig:"ODOOSYNC_DB_PORT" default:"5432"`
	User     string `envconfig:"ODOOSYNC_DB_USER"`
	Password string `envconfig:"ODOOSYNC_DB_PASSWORD"`
	Name     string `envconfig:"ODOOSYNC_DB_NAME"`
	SSLMode  string `envconfig:"ODOOSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ODOOSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ODOOSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ODOOSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ODOOSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	var missing []string
	if db.Host == "" {
		missing = append(missing, "ODOOSYNC_DB_HOST")
	}
	if db.User == "" {
		missing = append(missing, "ODOOSYNC_DB_USER")
	}
	if db.Name == "" {
		missing = append(missing, "ODOOSYNC_DB_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("database config incomplete: set ODOOSYNC_DB_DSN or %s", strings.Join(missing, ", "))
	}

	db.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(db.User),
		url.QueryEscape(db.Password),
		db.Host,
		db.Port,
		db.Name,
		db.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"ODOOSYNC_REDIS_URL"`
	Address      string        `envconfig:"ODOOSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"ODOOSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"ODOOSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ODOOSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ODOOSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ODOOSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ODOOSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ODOOSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ODOOSYNC_JWT_SECRET"`
	Issuer            string `envconfig:"ODOOSYNC_JWT_ISSUER" default:"odoosync"`
	ExpirationMinutes int    `envconfig:"ODOOSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

// SyncConfig tunes the queue-draining engine.
type SyncConfig struct {
	BatchSize     int           `envconfig:"ODOOSYNC_SYNC_BATCH_SIZE" default:"50"`
	MaxAttempts   int           `envconfig:"ODOOSYNC_SYNC_MAX_ATTEMPTS" default:"3"`
	LockTimeout   time.Duration `envconfig:"ODOOSYNC_SYNC_LOCK_TIMEOUT" default:"5s"`
	PollInterval  time.Duration `envconfig:"ODOOSYNC_SYNC_POLL_INTERVAL" default:"1m"`
	RetentionDays int           `envconfig:"ODOOSYNC_SYNC_RETENTION_DAYS" default:"30"`
	ReclaimMaxAge time.Duration `envconfig:"ODOOSYNC_SYNC_RECLAIM_MAX_AGE" default:"30m"`
	DryRun        bool          `envconfig:"ODOOSYNC_SYNC_DRY_RUN" default:"false"`
}

// NotifyConfig controls operator failure notifications.
type NotifyConfig struct {
	AdminEmail       string        `envconfig:"ODOOSYNC_NOTIFY_ADMIN_EMAIL"`
	FromEmail        string        `envconfig:"ODOOSYNC_NOTIFY_FROM_EMAIL"`
	FailureThreshold int           `envconfig:"ODOOSYNC_NOTIFY_FAILURE_THRESHOLD" default:"10"`
	Cooldown         time.Duration `envconfig:"ODOOSYNC_NOTIFY_COOLDOWN" default:"1h"`
	SMTPHost         string        `envconfig:"ODOOSYNC_NOTIFY_SMTP_HOST"`
	SMTPPort         int           `envconfig:"ODOOSYNC_NOTIFY_SMTP_PORT" default:"587"`
	SMTPUser         string        `envconfig:"ODOOSYNC_NOTIFY_SMTP_USER"`
	SMTPPassword     string        `envconfig:"ODOOSYNC_NOTIFY_SMTP_PASSWORD"`
}

// Enabled reports whether notifications are configured at all.
func (n NotifyConfig) Enabled() bool {
	return n.AdminEmail != "" && n.SMTPHost != ""
}

type CronConfig struct {
	Interval time.Duration `envconfig:"ODOOSYNC_CRON_INTERVAL" default:"24h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ODOOSYNC_AUTO_MIGRATE" default:"false"`
}
