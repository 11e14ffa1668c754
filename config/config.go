package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type StripeConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	EventName string        `mapstructure:"event_name"` // billing meter event name for usage reports
	Timeout   time.Duration `mapstructure:"timeout"`
}

type WebhookConfig struct {
	// SigningSecret verifies inbound webhook signatures. Empty disables
	// verification (local development only).
	SigningSecret string `mapstructure:"signing_secret"`
}

type SchedulerConfig struct {
	// UsageInterval is the cadence of the usage-report retry pass.
	UsageInterval time.Duration `mapstructure:"usage_interval"`
	// WebhookInterval is the cadence of the webhook re-processing pass. It is
	// the only backoff webhook retries have.
	WebhookInterval time.Duration `mapstructure:"webhook_interval"`
	// BatchSize caps items fetched per pass.
	BatchSize int `mapstructure:"batch_size"`
	// Workers bounds concurrent item processing within one pass.
	Workers int `mapstructure:"workers"`
	// ItemTimeout bounds each delivery or side-effect call so a hung external
	// call cannot wedge a pass.
	ItemTimeout time.Duration `mapstructure:"item_timeout"`
	// LockTTL is the Redis scheduler-lock expiry.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// WebhookMaxAttempts abandons an event after this many retryable
	// failures. 0 means retry forever.
	WebhookMaxAttempts int `mapstructure:"webhook_max_attempts"`
}

type OpsConfig struct {
	// Token guards the operator introspection and usage submission endpoints.
	Token string `mapstructure:"token"`
	// UnresolvedThreshold is the default age before an unresolved webhook
	// event is considered alert-worthy.
	UnresolvedThreshold time.Duration `mapstructure:"unresolved_threshold"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: BEP_ (Billing Event Pipeline).
// Nested keys use underscore: BEP_DATABASE_HOST, BEP_STRIPE_API_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "billing_pipeline")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("stripe.api_key", "")
	v.SetDefault("stripe.base_url", "https://api.stripe.com")
	v.SetDefault("stripe.event_name", "api_usage")
	v.SetDefault("stripe.timeout", "10s")
	v.SetDefault("webhook.signing_secret", "")
	v.SetDefault("scheduler.usage_interval", "1m")
	v.SetDefault("scheduler.webhook_interval", "5m")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.item_timeout", "15s")
	v.SetDefault("scheduler.lock_ttl", "2m")
	v.SetDefault("scheduler.webhook_max_attempts", 25)
	v.SetDefault("ops.token", "")
	v.SetDefault("ops.unresolved_threshold", "1h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: BEP_DATABASE_HOST -> database.host
	v.SetEnvPrefix("BEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
