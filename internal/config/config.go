// Package config loads retailsaga settings from a YAML file overlaid with
// RETAILSAGA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "RETAILSAGA_"

// minSecretLength matches the shortest secret the token issuer accepts.
const minSecretLength = 32

// Config holds all retailsaga configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Events      EventsConfig      `yaml:"events"`
	Saga        SagaConfig        `yaml:"saga"`
	Payments    PaymentsConfig    `yaml:"payments"`
	Auth        AuthConfig        `yaml:"auth"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects SQLite (Path) or Postgres (DSN, or the discrete
// connection fields).
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	Path         string `yaml:"path"`
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// IdempotencyConfig controls how long stored results are replayed. A zero
// TTL keeps them forever.
type IdempotencyConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

type EventsConfig struct {
	Sink        string            `yaml:"sink"` // none, log, redis or eventbridge
	Redis       RedisConfig       `yaml:"redis"`
	EventBridge EventBridgeConfig `yaml:"eventbridge"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type EventBridgeConfig struct {
	Region   string `yaml:"region"`
	Bus      string `yaml:"bus"`
	Source   string `yaml:"source"`
	Endpoint string `yaml:"endpoint"`
}

// SagaConfig selects where saga run state is kept.
type SagaConfig struct {
	StateBackend string `yaml:"state_backend"` // sql, file or memory
	StateDir     string `yaml:"state_dir"`
}

// PaymentsConfig configures the stub payment gateway.
type PaymentsConfig struct {
	// DeclineAbove makes the gateway decline totals above this many cents.
	// Zero approves everything.
	DeclineAbove int64 `yaml:"decline_above"`
}

// AuthConfig configures access tokens. JWTSecret is required to serve the
// API and is best supplied through RETAILSAGA_JWT_SECRET.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Path:         "retailsaga.db",
			Port:         "5432",
			SSLMode:      "disable",
			MaxOpenConns: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Idempotency: IdempotencyConfig{
			PurgeInterval: time.Hour,
		},
		Events: EventsConfig{
			Sink: "log",
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Channel: "cloudretail.saga",
			},
			EventBridge: EventBridgeConfig{
				Region: "us-east-1",
				Bus:    "default",
				Source: "cloudretail.saga",
			},
		},
		Saga: SagaConfig{
			StateBackend: "sql",
			StateDir:     "sagas",
		},
		Auth: AuthConfig{
			Issuer:   "retailsaga",
			TokenTTL: 7 * 24 * time.Hour,
		},
	}
}

// Load reads path (if not empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.HTTP.Addr = getEnvOrDefault("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.ShutdownTimeout = getDurationEnvOrDefault("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)

	c.Database.Driver = getEnvOrDefault("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnvOrDefault("DB_DSN", c.Database.DSN)
	c.Database.Path = getEnvOrDefault("DB_PATH", c.Database.Path)
	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvOrDefault("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnvOrDefault("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getIntEnvOrDefault("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)

	c.Idempotency.TTL = getDurationEnvOrDefault("IDEMPOTENCY_TTL", c.Idempotency.TTL)
	c.Idempotency.PurgeInterval = getDurationEnvOrDefault("IDEMPOTENCY_PURGE_INTERVAL", c.Idempotency.PurgeInterval)

	c.Events.Sink = getEnvOrDefault("EVENT_SINK", c.Events.Sink)
	c.Events.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Events.Redis.Addr)
	c.Events.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Events.Redis.Password)
	c.Events.Redis.DB = getIntEnvOrDefault("REDIS_DB", c.Events.Redis.DB)
	c.Events.Redis.Channel = getEnvOrDefault("REDIS_CHANNEL", c.Events.Redis.Channel)
	c.Events.EventBridge.Region = getEnvOrDefault("AWS_REGION", c.Events.EventBridge.Region)
	c.Events.EventBridge.Bus = getEnvOrDefault("EVENTBRIDGE_BUS", c.Events.EventBridge.Bus)
	c.Events.EventBridge.Source = getEnvOrDefault("EVENTBRIDGE_SOURCE", c.Events.EventBridge.Source)
	c.Events.EventBridge.Endpoint = getEnvOrDefault("EVENTBRIDGE_ENDPOINT", c.Events.EventBridge.Endpoint)

	c.Saga.StateBackend = getEnvOrDefault("STATE_BACKEND", c.Saga.StateBackend)
	c.Saga.StateDir = getEnvOrDefault("STATE_DIR", c.Saga.StateDir)

	c.Payments.DeclineAbove = int64(getIntEnvOrDefault("PAYMENTS_DECLINE_ABOVE", int(c.Payments.DeclineAbove)))

	c.Auth.JWTSecret = getEnvOrDefault("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnvOrDefault("JWT_ISSUER", c.Auth.Issuer)
	c.Auth.TokenTTL = getDurationEnvOrDefault("TOKEN_TTL", c.Auth.TokenTTL)
}

// Validate checks that the configuration can be used to start the service.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" && c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			if c.Database.Host == "" {
				errs = append(errs, errors.New("database.host is required for postgres"))
			}
			if c.Database.User == "" {
				errs = append(errs, errors.New("database.user is required for postgres"))
			}
			if c.Database.Name == "" {
				errs = append(errs, errors.New("database.name is required for postgres"))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("invalid database.driver: %q (valid: sqlite, postgres)", c.Database.Driver))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format: %q (valid: json, console)", c.Logging.Format))
	}

	if c.Idempotency.TTL < 0 {
		errs = append(errs, errors.New("idempotency.ttl must not be negative"))
	}

	switch c.Events.Sink {
	case "none", "log":
	case "redis":
		if c.Events.Redis.Addr == "" {
			errs = append(errs, errors.New("events.redis.addr is required for the redis sink"))
		}
	case "eventbridge":
		if c.Events.EventBridge.Region == "" {
			errs = append(errs, errors.New("events.eventbridge.region is required for the eventbridge sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid events.sink: %q (valid: none, log, redis, eventbridge)", c.Events.Sink))
	}

	switch c.Saga.StateBackend {
	case "sql", "memory":
	case "file":
		if c.Saga.StateDir == "" {
			errs = append(errs, errors.New("saga.state_dir is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid saga.state_backend: %q (valid: sql, file, memory)", c.Saga.StateBackend))
	}

	if c.Payments.DeclineAbove < 0 {
		errs = append(errs, errors.New("payments.decline_above must not be negative"))
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	return errors.Join(errs...)
}

// ConnString returns the driver-specific data source name.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Driver == "sqlite" {
		return d.Path
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
