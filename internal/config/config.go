// Package config loads service configuration from a .env file, an optional
// TOML file and the process environment, in that order of precedence
// (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// Config is the root configuration.
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	NATS      NATSConfig      `toml:"nats"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Redis     RedisConfig     `toml:"redis"`
}

// Duration is a time.Duration written as a Go duration string ("72h",
// "15s") in the config file.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServiceConfig struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Environment string `toml:"environment"`
	LogLevel    string `toml:"log_level"`
}

type ServerConfig struct {
	Port            int      `toml:"port"`
	GRPCPort        int      `toml:"grpc_port"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	IdleTimeout     Duration `toml:"idle_timeout"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	User        string   `toml:"user"`
	Password    string   `toml:"password"`
	Database    string   `toml:"database"`
	SSLMode     string   `toml:"ssl_mode"`
	MaxConns    int32    `toml:"max_conns"`
	MinConns    int32    `toml:"min_conns"`
	MaxConnTime Duration `toml:"max_conn_time"`
	MaxIdleTime Duration `toml:"max_idle_time"`
	HealthCheck Duration `toml:"health_check"`
}

// LedgerConfig holds the settlement policy.
type LedgerConfig struct {
	// MinimumWithdrawal is a decimal string, e.g. "50.00".
	MinimumWithdrawal string   `toml:"minimum_withdrawal"`
	HoldPeriod        Duration `toml:"hold_period"`
	Currency          string   `toml:"currency"`
}

type SchedulerConfig struct {
	Enabled      bool   `toml:"enabled"`
	ExpireSpec   string `toml:"expire_spec"`
	MaturitySpec string `toml:"maturity_spec"`
}

type NATSConfig struct {
	URL string `toml:"url"`
}

type KafkaConfig struct {
	Brokers     []string `toml:"brokers"`
	PayoutTopic string   `toml:"payout_topic"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "sync-settlement",
			Version:     "dev",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:            8080,
			GRPCPort:        9090,
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{15 * time.Second},
			IdleTimeout:     Duration{60 * time.Second},
			RequestTimeout:  Duration{30 * time.Second},
			ShutdownTimeout: Duration{20 * time.Second},
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Database:    "mybeatfi",
			SSLMode:     "disable",
			MaxConns:    20,
			MinConns:    2,
			MaxConnTime: Duration{time.Hour},
			MaxIdleTime: Duration{30 * time.Minute},
			HealthCheck: Duration{time.Minute},
		},
		Ledger: LedgerConfig{
			MinimumWithdrawal: "50.00",
			HoldPeriod:        Duration{14 * 24 * time.Hour},
			Currency:          "USD",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			ExpireSpec:   "@every 1m",
			MaturitySpec: "@every 1h",
		},
		Kafka: KafkaConfig{
			PayoutTopic: "payouts.withdrawal-approved",
		},
	}
}

// Load reads configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Service.Name = getEnv("SERVICE_NAME", c.Service.Name)
	c.Service.Version = getEnv("SERVICE_VERSION", c.Service.Version)
	c.Service.Environment = getEnv("ENVIRONMENT", c.Service.Environment)
	c.Service.LogLevel = getEnv("LOG_LEVEL", c.Service.LogLevel)

	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.GRPCPort = getEnvInt("GRPC_PORT", c.Server.GRPCPort)
	c.Server.ReadTimeout = getEnvDuration("READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(c.Database.MaxConns)))
	c.Database.MinConns = int32(getEnvInt("DB_MIN_CONNS", int(c.Database.MinConns)))

	c.Ledger.MinimumWithdrawal = getEnv("MINIMUM_WITHDRAWAL", c.Ledger.MinimumWithdrawal)
	c.Ledger.HoldPeriod = getEnvDuration("HOLD_PERIOD", c.Ledger.HoldPeriod)
	c.Ledger.Currency = getEnv("CURRENCY", c.Ledger.Currency)

	c.Scheduler.Enabled = getEnvBool("SCHEDULER_ENABLED", c.Scheduler.Enabled)
	c.Scheduler.ExpireSpec = getEnv("EXPIRE_SWEEP_SPEC", c.Scheduler.ExpireSpec)
	c.Scheduler.MaturitySpec = getEnv("MATURITY_SWEEP_SPEC", c.Scheduler.MaturitySpec)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.PayoutTopic = getEnv("KAFKA_PAYOUT_TOPIC", c.Kafka.PayoutTopic)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	if _, err := c.MinimumWithdrawal(); err != nil {
		return err
	}
	if c.Ledger.HoldPeriod.Duration < 0 {
		return fmt.Errorf("ledger hold period cannot be negative")
	}
	return nil
}

// MinimumWithdrawal parses the configured withdrawal threshold.
func (c *Config) MinimumWithdrawal() (decimal.Decimal, error) {
	min, err := decimal.NewFromString(c.Ledger.MinimumWithdrawal)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid minimum withdrawal %q: %w", c.Ledger.MinimumWithdrawal, err)
	}
	if min.IsNegative() {
		return decimal.Zero, fmt.Errorf("minimum withdrawal cannot be negative")
	}
	return min, nil
}

// DSN renders the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return Duration{d}
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
