package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	API      APIConfig
	Admin    AdminConfig
	Session  SessionConfig
	DB       DBConfig
	Redis    RedisConfig
	Telegram TelegramConfig
	Kafka    KafkaConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

type APIConfig struct {
	URL               string        `env:"ADMIN_API_URL" envDefault:"https://amared-orders.amaredpostres.workers.dev/"`
	Timeout           time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	RateLimitRetries  int           `env:"RATE_LIMIT_RETRIES" envDefault:"2"`
	RateLimitBaseWait time.Duration `env:"RATE_LIMIT_BASE_DELAY" envDefault:"600ms"`
}

type AdminConfig struct {
	PIN              string        `env:"ADMIN_PIN"`
	Operator         string        `env:"OPERATOR" envDefault:"ADMIN"`
	SoftRefreshDelay time.Duration `env:"SOFT_REFRESH_DELAY" envDefault:"800ms"`
	HistoryTTL       time.Duration `env:"HISTORY_TTL" envDefault:"60s"`
	ConfirmSeconds   int           `env:"CONFIRM_SECONDS" envDefault:"3"`
	FreeTextMatch    string        `env:"FREE_TEXT_MATCH" envDefault:"exact"` // "exact" or "prefix"
	CatalogFile      string        `env:"CATALOG_FILE"`
}

type SessionConfig struct {
	Backend string `env:"SESSION_BACKEND" envDefault:"file"` // file, postgres, redis
	File    string `env:"SESSION_FILE" envDefault:".dessert-admin-session.json"`
}

type DBConfig struct {
	// Enabled turns on Postgres for notification history and card pointers
	// even when sessions live elsewhere.
	Enabled  bool   `env:"DB_ENABLED" envDefault:"false"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Database string `env:"DB_NAME" envDefault:"dessert_admin"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type TelegramConfig struct {
	Token       string `env:"TELEGRAM_TOKEN"`
	AdminChatID int64  `env:"TELEGRAM_ADMIN_CHAT"`
}

type KafkaConfig struct {
	Brokers string `env:"KAFKA_BROKERS"`
	Topic   string `env:"KAFKA_TOPIC" envDefault:"dessert-orders"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
	Output string `env:"LOG_OUTPUT" envDefault:"dessert-admin.log"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.URL) == "" {
		return fmt.Errorf("ADMIN_API_URL is required")
	}
	if c.API.RateLimitRetries < 0 {
		return fmt.Errorf("RATE_LIMIT_RETRIES must be >= 0")
	}
	if c.Admin.ConfirmSeconds < 1 {
		return fmt.Errorf("CONFIRM_SECONDS must be >= 1")
	}
	switch c.Admin.FreeTextMatch {
	case "exact", "prefix":
	default:
		return fmt.Errorf("invalid FREE_TEXT_MATCH: %s", c.Admin.FreeTextMatch)
	}
	switch c.Session.Backend {
	case "file", "postgres", "redis":
	default:
		return fmt.Errorf("invalid SESSION_BACKEND: %s", c.Session.Backend)
	}
	return nil
}

// DSN builds the postgres connection string used by the session backend.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}
