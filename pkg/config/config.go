package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix scopes every environment variable read by Load.
const EnvPrefix = "USERHUB"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Kafka    KafkaConfig
	Outbox   OutboxConfig
	Consumer ConsumerConfig
	Ledger   LedgerConfig
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
	Env          string `envconfig:"USERHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"USERHUB_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"USERHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"USERHUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"USERHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"USERHUB_DB_DSN"`
	Driver string `envconfig:"USERHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"USERHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"USERHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"USERHUB_DB_USER"`
	LegacyPassword string `envconfig:"USERHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"USERHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"USERHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"USERHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"USERHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"USERHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"USERHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	QueryTimeout    time.Duration `envconfig:"USERHUB_DB_QUERY_TIMEOUT" default:"5s"`
}

func (d *DBConfig) ensureDSN() error {
	if strings.TrimSpace(d.DSN) != "" {
		return nil
	}
	if d.LegacyHost == "" || d.LegacyUser == "" || d.LegacyName == "" {
		return fmt.Errorf("database DSN or host/user/name settings are required")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.LegacyUser, d.LegacyPassword),
		Host:   fmt.Sprintf("%s:%d", d.LegacyHost, d.LegacyPort),
		Path:   d.LegacyName,
	}
	q := u.Query()
	q.Set("sslmode", d.LegacySSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type KafkaConfig struct {
	Brokers              []string `envconfig:"USERHUB_KAFKA_BROKERS" required:"true"`
	UserEventsTopic      string   `envconfig:"USERHUB_KAFKA_USER_EVENTS_TOPIC" default:"user-events"`
	ProfileUpdatedTopic  string   `envconfig:"USERHUB_KAFKA_PROFILE_UPDATED_TOPIC" default:"profile-updated"`
	ConsumerGroup        string   `envconfig:"USERHUB_KAFKA_CONSUMER_GROUP" default:"address-service-group"`
	MinBytes             int      `envconfig:"USERHUB_KAFKA_MIN_BYTES" default:"1"`
	MaxBytes             int      `envconfig:"USERHUB_KAFKA_MAX_BYTES" default:"10485760"`
	DialTimeoutSeconds   int      `envconfig:"USERHUB_KAFKA_DIAL_TIMEOUT_SECONDS" default:"10"`
	CommitTimeoutSeconds int      `envconfig:"USERHUB_KAFKA_COMMIT_TIMEOUT_SECONDS" default:"10"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"USERHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"100"`
	PollIntervalMS int `envconfig:"USERHUB_OUTBOX_PUBLISH_POLL_MS" default:"5000"`
}

type ConsumerConfig struct {
	MaxAttempts      int           `envconfig:"USERHUB_CONSUMER_MAX_ATTEMPTS" default:"3"`
	InitialBackoff   time.Duration `envconfig:"USERHUB_CONSUMER_INITIAL_BACKOFF" default:"1s"`
	BackoffMultiple  float64       `envconfig:"USERHUB_CONSUMER_BACKOFF_MULTIPLE" default:"2"`
	MaxBackoff       time.Duration `envconfig:"USERHUB_CONSUMER_MAX_BACKOFF" default:"10s"`
	HandleTimeout    time.Duration `envconfig:"USERHUB_CONSUMER_HANDLE_TIMEOUT" default:"30s"`
	FailedListLimit  int           `envconfig:"USERHUB_CONSUMER_FAILED_LIST_LIMIT" default:"10"`
	ShutdownDrainSec int           `envconfig:"USERHUB_CONSUMER_SHUTDOWN_DRAIN_SECONDS" default:"15"`
}

type LedgerConfig struct {
	CleanupInterval time.Duration `envconfig:"USERHUB_LEDGER_CLEANUP_INTERVAL" default:"24h"`
	RetentionDays   int           `envconfig:"USERHUB_LEDGER_RETENTION_DAYS" default:"30"`
}
