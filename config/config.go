// Package config loads the market service configuration from config.yml,
// the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	DefaultPath    = "config.yml"
	DefaultEnvFile = ".env"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Session     SessionConfig     `yaml:"session"`
	CSRF        CSRFConfig        `yaml:"csrf"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Redis       RedisConfig       `yaml:"redis"`
	Media       MediaConfig       `yaml:"media"`
	Payment     PaymentConfig     `yaml:"payment"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
	Jobs        JobsConfig        `yaml:"jobs"`
}

type AppConfig struct {
	Env               string `yaml:"env" env:"APP_ENV" env-default:"development"`
	Addr              string `yaml:"addr" env:"APP_ADDR" env-default:":3000"`
	ViewsDir          string `yaml:"views_dir" env:"APP_VIEWS_DIR" env-default:"./views"`
	PublicDir         string `yaml:"public_dir" env:"APP_PUBLIC_DIR" env-default:"./public"`
	DefaultVerifier   string `yaml:"default_verifier" env:"APP_DEFAULT_VERIFIER" env-default:"Admin"`
	PhoneRegion       string `yaml:"phone_region" env:"APP_PHONE_REGION" env-default:"ID"`
	SeedAdminUsername string `yaml:"seed_admin_username" env:"APP_SEED_ADMIN_USERNAME" env-default:"admin"`
	// SeedAdminEmail enables the boot time admin account when set
	SeedAdminEmail    string `yaml:"seed_admin_email" env:"APP_SEED_ADMIN_EMAIL"`
	SeedAdminPassword string `yaml:"seed_admin_password" env:"APP_SEED_ADMIN_PASSWORD"`
}

type SessionConfig struct {
	CookieName         string        `yaml:"cookie_name" env:"SESSION_COOKIE_NAME" env-default:"market_session"`
	TTL                time.Duration `yaml:"ttl" env:"SESSION_TTL" env-default:"168h"`
	SigningKey         string        `yaml:"signing_key" env:"SESSION_SECRET"`
	Issuer             string        `yaml:"issuer" env:"SESSION_ISSUER" env-default:"go-market"`
	ReturnToCookieName string        `yaml:"return_to_cookie_name" env:"SESSION_RETURN_TO_COOKIE" env-default:"market_return_to"`
	FlashCookieName    string        `yaml:"flash_cookie_name" env:"SESSION_FLASH_COOKIE" env-default:"market_flash"`
	// Store is "sql" or "redis"
	Store string `yaml:"store" env:"SESSION_STORE" env-default:"sql"`
}

type CSRFConfig struct {
	Enabled bool `yaml:"enabled" env:"CSRF_ENABLED" env-default:"true"`
	// SecureKey must be at least 32 bytes, a random key is used when empty
	SecureKey  string        `yaml:"secure_key" env:"CSRF_SECRET"`
	Expiration time.Duration `yaml:"expiration" env:"CSRF_EXPIRATION" env-default:"12h"`
}

type PersistenceConfig struct {
	Debug       bool          `yaml:"debug" env:"DB_DEBUG"`
	Driver      string        `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	Server      string        `yaml:"server" env:"DB_SERVER" env-default:"localhost:5432"`
	DSN         string        `yaml:"dsn" env:"DB_DSN" env-default:"file:market.db?cache=shared&_fk=1"`
	PingTimeout time.Duration `yaml:"ping_timeout" env:"DB_PING_TIMEOUT" env-default:"5s"`
	OtelName    string        `yaml:"otel_identifier" env:"DB_OTEL_IDENTIFIER" env-default:"market"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"market:session:"`
}

type MediaConfig struct {
	URL       string        `yaml:"url" env:"MEDIA_URL"`
	APIKey    string        `yaml:"api_key" env:"MEDIA_API_KEY"`
	APISecret string        `yaml:"api_secret" env:"MEDIA_API_SECRET"`
	Timeout   time.Duration `yaml:"timeout" env:"MEDIA_TIMEOUT" env-default:"30s"`
}

type PaymentConfig struct {
	BaseURL string        `yaml:"base_url" env:"PAYMENT_BASE_URL" env-default:"https://forestapi.web.id/api/h2h"`
	APIKey  string        `yaml:"api_key" env:"PAYMENT_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"PAYMENT_TIMEOUT" env-default:"15s"`
}

type RabbitMQConfig struct {
	URI      string `yaml:"uri" env:"RABBITMQ_URI"`
	Exchange string `yaml:"exchange" env:"RABBITMQ_EXCHANGE" env-default:"market.activity"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:":9090"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	File  string `yaml:"file" env:"LOG_FILE"`
}

type JobsConfig struct {
	ExpireDeposits string `yaml:"expire_deposits" env:"JOBS_EXPIRE_DEPOSITS" env-default:"@every 5m"`
	PurgeSessions  string `yaml:"purge_sessions" env:"JOBS_PURGE_SESSIONS" env-default:"@hourly"`
}

var ErrMissingSigningKey = errors.New("session signing key is required")

// Load reads envFile when present, then path, falling back to the
// environment alone when path cannot be read.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Session.SigningKey) == "" {
		return ErrMissingSigningKey
	}
	if key := c.CSRF.SecureKey; c.CSRF.Enabled && key != "" && len(key) < 32 {
		return fmt.Errorf("csrf secure key must be at least 32 bytes")
	}
	switch c.Session.Store {
	case "sql", "redis":
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}
	switch c.Persistence.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Persistence.Driver)
	}
	return nil
}

// Usage describes every environment variable the service reads
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return text
}

var _ market.Config = (*Config)(nil)

func (c *Config) GetSessionCookieName() string  { return c.Session.CookieName }
func (c *Config) GetSessionTTL() time.Duration  { return c.Session.TTL }
func (c *Config) GetSigningKey() string         { return c.Session.SigningKey }
func (c *Config) GetIssuer() string             { return c.Session.Issuer }
func (c *Config) GetLoginRoute() string         { return "/auth/login" }
func (c *Config) GetRegisterRoute() string      { return "/auth/register" }
func (c *Config) GetReturnToCookieName() string { return c.Session.ReturnToCookieName }
func (c *Config) GetFlashCookieName() string    { return c.Session.FlashCookieName }
func (c *Config) GetDefaultVerifier() string    { return c.App.DefaultVerifier }
func (c *Config) IsProduction() bool            { return c.App.Env == "production" }

func (c *Config) GetPersistence() PersistenceConfig { return c.Persistence }

func (p PersistenceConfig) GetDebug() bool                { return p.Debug }
func (p PersistenceConfig) GetDriver() string             { return p.Driver }
func (p PersistenceConfig) GetServer() string             { return p.Server }
func (p PersistenceConfig) GetDSN() string                { return p.DSN }
func (p PersistenceConfig) GetPingTimeout() time.Duration { return p.PingTimeout }
func (p PersistenceConfig) GetOtelIdentifier() string     { return p.OtelName }
