// Package config loads server configuration from an optional YAML file, a
// .env file and PAYFLOW_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yourorg/payment-flow/internal/block/circuitbreaker"
	"github.com/yourorg/payment-flow/internal/block/policy"
)

const envPrefix = "PAYFLOW"

type Config struct {
	Server         ServerConfig          `mapstructure:"server"`
	Database       DatabaseConfig        `mapstructure:"database"`
	Redis          RedisConfig           `mapstructure:"redis"`
	Kafka          KafkaConfig           `mapstructure:"kafka"`
	Stripe         StripeConfig          `mapstructure:"stripe"`
	Log            LogConfig             `mapstructure:"log"`
	Tracing        TracingConfig         `mapstructure:"tracing"`
	CircuitBreaker circuitbreaker.Config `mapstructure:"circuit_breaker"`
	Policy         PolicyConfig          `mapstructure:"policy"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the storage backend. Driver "memory" keeps
// everything in process.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type StripeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PolicyConfig holds the rules of the policy blocks. The PAY block always
// runs; the AFTER_PAY and AFTER_CONFIRM blocks only exist when they have rules.
type PolicyConfig struct {
	PayRules          []policy.Rule `mapstructure:"pay_rules"`
	AfterPayRules     []policy.Rule `mapstructure:"after_pay_rules"`
	AfterConfirmRules []policy.Rule `mapstructure:"after_confirm_rules"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:payflow.db?cache=shared")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "payment-method-operations")
	v.SetDefault("stripe.enabled", false)
	v.SetDefault("stripe.api_key", "")
	v.SetDefault("stripe.base_url", "https://api.stripe.com/v1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("circuit_breaker.failure_threshold", 3)
	v.SetDefault("circuit_breaker.reset_timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.half_open_success_threshold", 1)
}

// Load reads configuration. path may be empty; a missing .env file is not an
// error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// LOG_LEVEL and LOG_FORMAT are honoured without the prefix too.
	_ = v.BindEnv("log.level", envPrefix+"_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log.format", envPrefix+"_LOG_FORMAT", "LOG_FORMAT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistency found.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required for driver %q", c.Database.Driver)
	}
	if c.Stripe.Enabled && c.Stripe.APIKey == "" {
		return fmt.Errorf("config: stripe.api_key is required when stripe is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("config: kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}
	return nil
}
